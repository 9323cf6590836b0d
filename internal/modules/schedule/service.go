// README: Slot & ride scheduler: slot CRUD with overlap exclusion, ride booking with the dual vehicle guard.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"autoszkola/internal/infra"
	"autoszkola/internal/modules/course"
	"autoszkola/internal/modules/ride"
)

var (
	ErrNotFound           = errors.New("slot not found")
	ErrInvalidDuration    = errors.New("slot window is empty")
	ErrInvalidPlacement   = errors.New("slot window starts in the past")
	ErrSlotOverlap        = errors.New("instructor already has a slot in this window")
	ErrRideAssigned       = errors.New("slot already has a ride")
	ErrVehicleUnavailable = errors.New("vehicle unavailable")
)

// Fleet and Courses are the read-side collaborators for the booking
// guards.
type Fleet interface {
	GetVehicle(ctx context.Context, id int64) (*course.Vehicle, error)
}

type Courses interface {
	GetCourse(ctx context.Context, id int64) (*course.Course, error)
}

type Service struct {
	pool    *pgxpool.Pool
	store   *Store
	rides   *ride.Store
	fleet   Fleet
	courses Courses
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(pool *pgxpool.Pool, store *Store, rides *ride.Store, fleet Fleet, courses Courses, logger *zap.Logger) *Service {
	return &Service{
		pool:    pool,
		store:   store,
		rides:   rides,
		fleet:   fleet,
		courses: courses,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) GetSlot(ctx context.Context, id int64) (*ScheduleSlot, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListSlots(ctx context.Context, instructorID int64, from, to time.Time) ([]*ScheduleSlot, error) {
	return s.store.ListByInstructor(ctx, instructorID, from, to)
}

// CreateSlot validates the window, then inserts under the instructor
// lock so the overlap check and the insert cannot interleave with a
// concurrent attempt.
func (s *Service) CreateSlot(ctx context.Context, instructorID int64, start, end time.Time) (*ScheduleSlot, error) {
	iv, err := s.validateWindow(start, end)
	if err != nil {
		return nil, err
	}

	slot := &ScheduleSlot{InstructorID: instructorID, Start: iv.Start, End: iv.End}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		txStore := s.store.WithTx(tx)
		if err := infra.LockKey(ctx, tx, instructorKey(instructorID)); err != nil {
			return err
		}
		overlap, err := txStore.HasOverlap(ctx, instructorID, iv, 0)
		if err != nil {
			return err
		}
		if overlap {
			return ErrSlotOverlap
		}
		return txStore.Create(ctx, slot)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// UpdateSlot moves an unbound slot to a new window under the same
// validation and overlap exclusion as creation.
func (s *Service) UpdateSlot(ctx context.Context, slotID int64, start, end time.Time) (*ScheduleSlot, error) {
	iv, err := s.validateWindow(start, end)
	if err != nil {
		return nil, err
	}

	slot, err := s.store.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Bound() {
		return nil, ErrRideAssigned
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		txStore := s.store.WithTx(tx)
		if err := infra.LockKey(ctx, tx, instructorKey(slot.InstructorID)); err != nil {
			return err
		}
		overlap, err := txStore.HasOverlap(ctx, slot.InstructorID, iv, slotID)
		if err != nil {
			return err
		}
		if overlap {
			return ErrSlotOverlap
		}
		ok, err := txStore.UpdateWindow(ctx, slotID, iv)
		if err != nil {
			return err
		}
		if !ok {
			// A ride landed on the slot between the read and the update.
			return ErrRideAssigned
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slot.Start, slot.End = iv.Start, iv.End
	return slot, nil
}

func (s *Service) DeleteSlot(ctx context.Context, slotID int64) error {
	slot, err := s.store.Get(ctx, slotID)
	if err != nil {
		return err
	}
	if slot.Bound() {
		return ErrRideAssigned
	}
	ok, err := s.store.Delete(ctx, slotID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRideAssigned
	}
	return nil
}

// CreateRide books a ride from a free slot. Two independent guards must
// both pass: the vehicle's category set covers the course's category,
// and the vehicle has no other ride in the slot's window. The slot is
// re-read under a row lock inside the booking transaction, so the ride
// is always built from the window that actually commits — a concurrent
// window edit either lands before the re-read or waits and then fails
// on the ride_id guard.
func (s *Service) CreateRide(ctx context.Context, slotID, courseID, vehicleID int64) (*ride.Ride, error) {
	slot, err := s.store.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.Bound() {
		return nil, ErrRideAssigned
	}

	c, err := s.courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	v, err := s.fleet.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if !v.Categories.Contains(c.Category) {
		return nil, ErrVehicleUnavailable
	}

	var r *ride.Ride
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		txSlots := s.store.WithTx(tx)
		txRides := s.rides.WithTx(tx)

		slot, err = txSlots.GetForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Bound() {
			return ErrRideAssigned
		}

		if err := infra.LockKey(ctx, tx, vehicleKey(vehicleID)); err != nil {
			return err
		}
		busy, err := txRides.VehicleBusy(ctx, vehicleID, slot.Start, slot.End, 0)
		if err != nil {
			return err
		}
		if busy {
			return ErrVehicleUnavailable
		}

		r = &ride.Ride{
			SlotID:         slot.ID,
			CourseID:       courseID,
			StudentID:      c.StudentID,
			InstructorID:   slot.InstructorID,
			VehicleID:      vehicleID,
			Status:         ride.StatusPlanned,
			PlannedStart:   slot.Start,
			PlannedEnd:     slot.End,
			DurationHalves: ride.DurationHalves(slot.Start, slot.End),
		}
		if err := txRides.Create(ctx, r); err != nil {
			return err
		}
		ok, err := txSlots.Bind(ctx, slot.ID, r.ID)
		if err != nil {
			return err
		}
		if !ok {
			// Another booking claimed the slot first.
			return ErrRideAssigned
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ride booked",
		zap.Int64("slot_id", slot.ID),
		zap.Int64("ride_id", r.ID),
		zap.Int64("course_id", courseID),
		zap.Int64("vehicle_id", vehicleID))
	return r, nil
}

func (s *Service) validateWindow(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if iv.Empty() {
		return Interval{}, ErrInvalidDuration
	}
	iv = iv.Normalize()
	if iv.Start.Before(s.now()) {
		return Interval{}, ErrInvalidPlacement
	}
	return iv, nil
}

func instructorKey(id int64) string {
	return fmt.Sprintf("slots:%d", id)
}

func vehicleKey(id int64) string {
	return fmt.Sprintf("vehicle:%d", id)
}
