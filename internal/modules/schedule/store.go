// README: Slot store backed by PostgreSQL; overlap checks run inside caller transactions.
package schedule

import (
	"context"
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

func (s *Store) Create(ctx context.Context, slot *ScheduleSlot) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO schedule_slots (instructor_id, start_time, end_time)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		slot.InstructorID, slot.Start, slot.End,
	).Scan(&slot.ID, &slot.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "create slot")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*ScheduleSlot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, instructor_id, start_time, end_time, ride_id, created_at
		FROM schedule_slots
		WHERE id = $1`, id,
	)
	var slot ScheduleSlot
	err := row.Scan(&slot.ID, &slot.InstructorID, &slot.Start, &slot.End, &slot.RideID, &slot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get slot")
	}
	return &slot, nil
}

// GetForUpdate reads the slot under a row lock. Booking holds it so a
// concurrent window edit cannot slip between the read and the bind.
func (s *Store) GetForUpdate(ctx context.Context, id int64) (*ScheduleSlot, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, instructor_id, start_time, end_time, ride_id, created_at
		FROM schedule_slots
		WHERE id = $1
		FOR UPDATE`, id,
	)
	var slot ScheduleSlot
	err := row.Scan(&slot.ID, &slot.InstructorID, &slot.Start, &slot.End, &slot.RideID, &slot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get slot for update")
	}
	return &slot, nil
}

func (s *Store) ListByInstructor(ctx context.Context, instructorID int64, from, to time.Time) ([]*ScheduleSlot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, instructor_id, start_time, end_time, ride_id, created_at
		FROM schedule_slots
		WHERE instructor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time`,
		instructorID, from, to,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list slots")
	}
	defer rows.Close()

	var out []*ScheduleSlot
	for rows.Next() {
		var slot ScheduleSlot
		if err := rows.Scan(&slot.ID, &slot.InstructorID, &slot.Start, &slot.End, &slot.RideID, &slot.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan slot")
		}
		out = append(out, &slot)
	}
	return out, rows.Err()
}

// HasOverlap reports whether the instructor already owns a slot
// intersecting the half-open window, ignoring excludeSlotID (0 for
// none). Call inside a transaction holding the instructor lock.
func (s *Store) HasOverlap(ctx context.Context, instructorID int64, iv Interval, excludeSlotID int64) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedule_slots
			WHERE instructor_id = $1
			  AND id <> $2
			  AND start_time < $3
			  AND end_time > $4
		)`, instructorID, excludeSlotID, iv.End, iv.Start,
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check slot overlap")
	}
	return exists, nil
}

// UpdateWindow moves an unbound slot. The ride_id guard closes the race
// with a concurrent booking.
func (s *Store) UpdateWindow(ctx context.Context, id int64, iv Interval) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE schedule_slots
		SET start_time = $1, end_time = $2
		WHERE id = $3 AND ride_id IS NULL`,
		iv.Start, iv.End, id,
	)
	if err != nil {
		return false, errors.Wrap(err, "update slot window")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM schedule_slots
		WHERE id = $1 AND ride_id IS NULL`, id,
	)
	if err != nil {
		return false, errors.Wrap(err, "delete slot")
	}
	return tag.RowsAffected() == 1, nil
}

// Bind attaches a freshly created ride to its slot. Only succeeds while
// the slot is still free.
func (s *Store) Bind(ctx context.Context, slotID, rideID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE schedule_slots
		SET ride_id = $1
		WHERE id = $2 AND ride_id IS NULL`,
		rideID, slotID,
	)
	if err != nil {
		return false, errors.Wrap(err, "bind slot")
	}
	return tag.RowsAffected() == 1, nil
}
