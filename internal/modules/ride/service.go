// README: Ride lifecycle manager: Planned -> Ongoing -> Finished, or Planned -> cancellation ledger.
package ride

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"autoszkola/internal/infra"
	"autoszkola/internal/modules/course"
)

var (
	ErrNotFound           = errors.New("ride not found")
	ErrConflict           = errors.New("ride state conflict")
	ErrInvalidState       = errors.New("invalid ride state transition")
	ErrVehicleUnavailable = errors.New("vehicle unavailable")
)

// Fleet supplies vehicle records for the availability guards.
type Fleet interface {
	GetVehicle(ctx context.Context, id int64) (*course.Vehicle, error)
}

// Courses supplies the course category for the vehicle guard.
type Courses interface {
	GetCourse(ctx context.Context, id int64) (*course.Course, error)
}

type Service struct {
	pool    *pgxpool.Pool
	store   *Store
	fleet   Fleet
	courses Courses
	logger  *zap.Logger
}

func NewService(pool *pgxpool.Pool, store *Store, fleet Fleet, courses Courses, logger *zap.Logger) *Service {
	return &Service{pool: pool, store: store, fleet: fleet, courses: courses, logger: logger}
}

func (s *Service) Get(ctx context.Context, id int64) (Lookup, error) {
	return s.store.Find(ctx, id)
}

// Start moves a Planned ride to Ongoing and stamps the actual start.
func (s *Service) Start(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusOngoing)
}

// End moves an Ongoing ride to Finished and stamps the actual end.
func (s *Service) End(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusFinished)
}

func (s *Service) transition(ctx context.Context, id int64, to Status) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, to) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, to, r.StatusVersion, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// Cancel converts a Planned ride into a ledger record and frees its
// slot. All three writes commit or none do.
func (s *Service) Cancel(ctx context.Context, id int64, requestorID int64) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCanceled) {
		return ErrInvalidState
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.store.WithTx(tx).DeleteAndRecordCancel(ctx, r, requestorID, time.Now())
	})
}

// ChangeVehicle swaps the vehicle on an existing ride. Same guards as
// booking: the vehicle must cover the course category and must be free
// in the ride's planned window.
func (s *Service) ChangeVehicle(ctx context.Context, id int64, vehicleID int64) error {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	v, err := s.fleet.GetVehicle(ctx, vehicleID)
	if err != nil {
		return err
	}
	c, err := s.courses.GetCourse(ctx, r.CourseID)
	if err != nil {
		return err
	}
	if !v.Categories.Contains(c.Category) {
		return ErrVehicleUnavailable
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		txStore := s.store.WithTx(tx)
		if err := infra.LockKey(ctx, tx, fmt.Sprintf("vehicle:%d", vehicleID)); err != nil {
			return err
		}
		busy, err := txStore.VehicleBusy(ctx, vehicleID, r.PlannedStart, r.PlannedEnd, r.ID)
		if err != nil {
			return err
		}
		if busy {
			return ErrVehicleUnavailable
		}
		ok, err := txStore.UpdateVehicle(ctx, r.ID, vehicleID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	})
}

// CancelAll cancels every Planned ride under a course. Cancellations
// run concurrently; each one is individually atomic and there is no
// rollback of earlier successes. A mixed result comes back as an error
// naming the rides that survived, and each failure is logged for
// operator follow-up.
func (s *Service) CancelAll(ctx context.Context, courseID int64, requestorID int64) error {
	rides, err := s.store.ListPlannedByCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if len(rides) == 0 {
		return nil
	}

	type result struct {
		rideID int64
		err    error
	}
	results := make(chan result, len(rides))
	var wg sync.WaitGroup

	for _, r := range rides {
		wg.Add(1)
		go func(rideID int64) {
			defer wg.Done()
			results <- result{rideID: rideID, err: s.Cancel(ctx, rideID, requestorID)}
		}(r.ID)
	}

	wg.Wait()
	close(results)

	var failed []string
	for res := range results {
		if res.err == nil || errors.Is(res.err, ErrNotFound) {
			// Already gone counts as canceled at the course level.
			continue
		}
		failed = append(failed, fmt.Sprintf("%d", res.rideID))
		s.logger.Error("ride cancellation failed during course fan-out",
			zap.Int64("course_id", courseID),
			zap.Int64("ride_id", res.rideID),
			zap.Error(res.err))
	}
	if len(failed) > 0 {
		return errors.Errorf("cancel all rides for course %d: rides [%s] not canceled", courseID, strings.Join(failed, ","))
	}
	return nil
}
