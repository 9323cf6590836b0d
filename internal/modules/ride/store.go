// README: Ride store backed by PostgreSQL; CAS status updates and the cancellation ledger.
package ride

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

func (s *Store) Create(ctx context.Context, r *Ride) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO rides (
			slot_id, course_id, student_id, instructor_id, vehicle_id,
			status, status_version, planned_start, planned_end, duration_halves
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
		RETURNING id, created_at`,
		r.SlotID, r.CourseID, r.StudentID, r.InstructorID, r.VehicleID,
		string(r.Status), r.PlannedStart, r.PlannedEnd, r.DurationHalves,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "create ride")
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, slot_id, course_id, student_id, instructor_id, vehicle_id,
		       status, status_version, planned_start, planned_end, duration_halves,
		       started_at, ended_at, created_at
		FROM rides
		WHERE id = $1`, id,
	)
	return scanRide(row)
}

// Find resolves an id against both the active table and the ledger.
func (s *Store) Find(ctx context.Context, id int64) (Lookup, error) {
	r, err := s.Get(ctx, id)
	if err == nil {
		return Lookup{Kind: KindActive, Active: r}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Lookup{}, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT ride_id, course_id, student_id, instructor_id, vehicle_id,
		       planned_start, planned_end, canceled_by, canceled_at
		FROM canceled_rides
		WHERE ride_id = $1`, id,
	)
	var c CanceledRide
	err = row.Scan(&c.RideID, &c.CourseID, &c.StudentID, &c.InstructorID, &c.VehicleID,
		&c.PlannedStart, &c.PlannedEnd, &c.CanceledBy, &c.CanceledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lookup{}, ErrNotFound
	}
	if err != nil {
		return Lookup{}, errors.Wrap(err, "find canceled ride")
	}
	return Lookup{Kind: KindCanceled, Canceled: &c}, nil
}

// UpdateStatus is the optimistic compare-and-set every transition goes
// through: it only applies when the persisted status and version still
// match what the caller read.
func (s *Store) UpdateStatus(ctx context.Context, id int64, from, to Status, version int, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rides
		SET status = $1,
		    status_version = status_version + 1,
		    started_at = CASE WHEN $1 = 'ongoing' THEN $2 ELSE started_at END,
		    ended_at = CASE WHEN $1 = 'finished' THEN $2 ELSE ended_at END
		WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to), now, id, string(from), version,
	)
	if err != nil {
		return false, errors.Wrap(err, "update ride status")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) UpdateVehicle(ctx context.Context, id int64, vehicleID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE rides SET vehicle_id = $1 WHERE id = $2`, vehicleID, id)
	if err != nil {
		return false, errors.Wrap(err, "update ride vehicle")
	}
	return tag.RowsAffected() == 1, nil
}

// VehicleBusy reports whether any other ride uses the vehicle inside
// the half-open window.
func (s *Store) VehicleBusy(ctx context.Context, vehicleID int64, start, end time.Time, excludeRideID int64) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rides
			WHERE vehicle_id = $1
			  AND id <> $2
			  AND planned_start < $3
			  AND planned_end > $4
		)`, vehicleID, excludeRideID, end, start,
	)
	var busy bool
	if err := row.Scan(&busy); err != nil {
		return false, errors.Wrap(err, "check vehicle window")
	}
	return busy, nil
}

// DeleteAndRecordCancel atomically removes the active row, writes the
// ledger entry, frees the originating slot, and cancels any planned
// exam bound to the ride. Must run inside a caller transaction (use
// WithTx).
func (s *Store) DeleteAndRecordCancel(ctx context.Context, r *Ride, canceledBy int64, canceledAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM rides
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		r.ID, string(r.Status), r.StatusVersion,
	)
	if err != nil {
		return errors.Wrap(err, "delete ride")
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO canceled_rides (
			ride_id, course_id, student_id, instructor_id, vehicle_id,
			planned_start, planned_end, canceled_by, canceled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.CourseID, r.StudentID, r.InstructorID, r.VehicleID,
		r.PlannedStart, r.PlannedEnd, canceledBy, canceledAt,
	)
	if err != nil {
		return errors.Wrap(err, "record canceled ride")
	}

	// The slot stays, unbound, so the instructor can rebook it.
	_, err = s.db.Exec(ctx, `UPDATE schedule_slots SET ride_id = NULL WHERE ride_id = $1`, r.ID)
	if err != nil {
		return errors.Wrap(err, "release slot")
	}

	// An exam waiting on the ride must not outlive it in Planned.
	_, err = s.db.Exec(ctx, `
		UPDATE exams
		SET status = 'canceled',
		    ride_kind = 'canceled',
		    status_version = status_version + 1,
		    updated_at = $2
		WHERE ride_id = $1 AND status = 'planned'`, r.ID, canceledAt,
	)
	if err != nil {
		return errors.Wrap(err, "cancel bound exam")
	}
	return nil
}

func (s *Store) ListPlannedByCourse(ctx context.Context, courseID int64) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, slot_id, course_id, student_id, instructor_id, vehicle_id,
		       status, status_version, planned_start, planned_end, duration_halves,
		       started_at, ended_at, created_at
		FROM rides
		WHERE course_id = $1 AND status = 'planned'
		ORDER BY planned_start`, courseID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list planned rides")
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*Ride, error) {
	var r Ride
	err := row.Scan(
		&r.ID, &r.SlotID, &r.CourseID, &r.StudentID, &r.InstructorID, &r.VehicleID,
		&r.Status, &r.StatusVersion, &r.PlannedStart, &r.PlannedEnd, &r.DurationHalves,
		&r.StartedAt, &r.EndedAt, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan ride")
	}
	return &r, nil
}
