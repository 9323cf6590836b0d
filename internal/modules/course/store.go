// README: Course collaborator store (reads for guards, writes for settlement and unwind).
package course

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"autoszkola/internal/infra"
	"autoszkola/internal/types"
)

var ErrNotFound = errors.New("course: not found")

type Store struct {
	db infra.DB
}

func NewStore(db infra.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to a caller-owned transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

func (s *Store) GetCourse(ctx context.Context, id int64) (*Course, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, student_id, category, payment_settled, internal_exam_passed, created_at
		FROM courses
		WHERE id = $1`, id,
	)

	var c Course
	err := row.Scan(&c.ID, &c.StudentID, &c.Category, &c.PaymentSettled, &c.InternalExamPassed, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get course")
	}
	return &c, nil
}

func (s *Store) GetVehicle(ctx context.Context, id int64) (*Vehicle, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, registration, categories
		FROM vehicles
		WHERE id = $1`, id,
	)

	var v Vehicle
	var cats []string
	err := row.Scan(&v.ID, &v.Registration, &cats)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get vehicle")
	}
	v.Categories = make(types.CategorySet, len(cats))
	for i, c := range cats {
		v.Categories[i] = types.Category(c)
	}
	return &v, nil
}

func (s *Store) MarkSettled(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE courses SET payment_settled = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "mark course settled")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCourse(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete course")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteHoursPackage(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM hours_packages WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete hours package")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
