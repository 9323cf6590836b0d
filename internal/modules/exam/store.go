// README: Exam store backed by PostgreSQL; ExamResult lives in a JSONB column.
package exam

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"autoszkola/internal/infra"
)

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

func (s *Store) Create(ctx context.Context, e *Exam) error {
	result, err := json.Marshal(e.Result)
	if err != nil {
		return errors.Wrap(err, "marshal exam result")
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO exams (course_id, ride_id, ride_kind, status, status_version, result)
		VALUES ($1, $2, $3, $4, 0, $5)
		RETURNING id, created_at, updated_at`,
		e.CourseID, e.RideID, string(e.RideKind), string(e.Status), result,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "create exam")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Exam, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, course_id, ride_id, ride_kind, status, status_version, result, created_at, updated_at
		FROM exams
		WHERE id = $1`, id,
	)
	return scanExam(row)
}

// HasOpenByCourse reports whether the course already carries a
// non-terminal exam.
func (s *Store) HasOpenByCourse(ctx context.Context, courseID int64) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM exams
			WHERE course_id = $1
			  AND status IN ('planned','ongoing')
		)`, courseID,
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check open exam")
	}
	return exists, nil
}

// UpdateStatus is the CAS transition; ride_kind is refreshed so a
// canceled exam keeps pointing at the ledger record.
func (s *Store) UpdateStatus(ctx context.Context, id int64, from, to Status, version int, rideKind string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE exams
		SET status = $1,
		    status_version = status_version + 1,
		    ride_kind = $2,
		    updated_at = $3
		WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(to), rideKind, now, id, string(from), version,
	)
	if err != nil {
		return false, errors.Wrap(err, "update exam status")
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateResult rewrites the checklists guarded by status and version so
// concurrent criterion edits cannot silently drop each other.
func (s *Store) UpdateResult(ctx context.Context, id int64, result ExamResult, version int, now time.Time) (bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return false, errors.Wrap(err, "marshal exam result")
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE exams
		SET result = $1,
		    status_version = status_version + 1,
		    updated_at = $2
		WHERE id = $3 AND status = 'ongoing' AND status_version = $4`,
		raw, now, id, version,
	)
	if err != nil {
		return false, errors.Wrap(err, "update exam result")
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(row rowScanner) (*Exam, error) {
	var e Exam
	var raw []byte
	err := row.Scan(&e.ID, &e.CourseID, &e.RideID, &e.RideKind, &e.Status, &e.StatusVersion, &raw, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan exam")
	}
	if err := json.Unmarshal(raw, &e.Result); err != nil {
		return nil, errors.Wrap(err, "unmarshal exam result")
	}
	return &e, nil
}
