// README: Exam lifecycle manager; every transition moves the underlying ride in lockstep.
package exam

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"autoszkola/internal/modules/course"
	"autoszkola/internal/modules/ride"
)

var (
	ErrNotFound      = errors.New("exam not found")
	ErrNoEntity      = errors.New("unknown checklist item")
	ErrInvalidState  = errors.New("invalid exam state transition")
	ErrConflict      = errors.New("exam state conflict")
	ErrExamOpen      = errors.New("course already has an open exam")
	ErrAlreadyPassed = errors.New("course already passed its internal exam")
	ErrBadState      = errors.New("criterion state is not a valid value")
)

type Courses interface {
	GetCourse(ctx context.Context, id int64) (*course.Course, error)
}

type Service struct {
	pool    *pgxpool.Pool
	store   *Store
	rides   *ride.Store
	courses Courses
	logger  *zap.Logger
}

func NewService(pool *pgxpool.Pool, store *Store, rides *ride.Store, courses Courses, logger *zap.Logger) *Service {
	return &Service{pool: pool, store: store, rides: rides, courses: courses, logger: logger}
}

func (s *Service) Get(ctx context.Context, id int64) (*Exam, error) {
	return s.store.Get(ctx, id)
}

// Schedule creates a Planned exam over a Planned ride. A course can
// carry at most one non-terminal exam and cannot re-take a passed one.
func (s *Service) Schedule(ctx context.Context, courseID, rideID int64) (*Exam, error) {
	c, err := s.courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if c.InternalExamPassed {
		return nil, ErrAlreadyPassed
	}

	r, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != ride.StatusPlanned {
		return nil, ErrInvalidState
	}

	open, err := s.store.HasOpenByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrExamOpen
	}

	e := &Exam{
		CourseID: courseID,
		RideID:   rideID,
		RideKind: ride.KindActive,
		Status:   StatusPlanned,
		Result:   NewResult(),
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Start moves exam and ride to Ongoing together.
func (s *Service) Start(ctx context.Context, examID int64) error {
	e, err := s.store.Get(ctx, examID)
	if err != nil {
		return err
	}
	if e.Status != StatusPlanned {
		return ErrInvalidState
	}

	r, err := s.rides.Get(ctx, e.RideID)
	if err != nil {
		return err
	}
	if !ride.CanTransition(r.Status, ride.StatusOngoing) {
		return ErrInvalidState
	}

	now := time.Now()
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ok, err := s.rides.WithTx(tx).UpdateStatus(ctx, r.ID, r.Status, ride.StatusOngoing, r.StatusVersion, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		ok, err = s.store.WithTx(tx).UpdateStatus(ctx, e.ID, e.Status, StatusOngoing, e.StatusVersion, string(ride.KindActive), now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	})
}

// UpdateCriterionState writes a tri-state value while the exam is
// running. The item keeps its category-exclusion set.
func (s *Service) UpdateCriterionState(ctx context.Context, examID int64, scope Scope, id CriterionID, state CriterionState) error {
	if !ValidState(state) {
		return ErrBadState
	}

	e, err := s.store.Get(ctx, examID)
	if err != nil {
		return err
	}
	if e.Status != StatusOngoing {
		return ErrInvalidState
	}
	if !e.Result.SetState(scope, id, state) {
		return ErrNoEntity
	}

	ok, err := s.store.UpdateResult(ctx, e.ID, e.Result, e.StatusVersion, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// End finishes the ride and settles the exam to Passed or Failed by
// the checklist aggregation rules.
func (s *Service) End(ctx context.Context, examID int64) (Status, error) {
	e, err := s.store.Get(ctx, examID)
	if err != nil {
		return "", err
	}
	if e.Status != StatusOngoing {
		return "", ErrInvalidState
	}

	c, err := s.courses.GetCourse(ctx, e.CourseID)
	if err != nil {
		return "", err
	}

	r, err := s.rides.Get(ctx, e.RideID)
	if err != nil {
		return "", err
	}
	if !ride.CanTransition(r.Status, ride.StatusFinished) {
		return "", ErrInvalidState
	}

	passed, total := e.Result.Score(c.Category)
	verdict := StatusFailed
	if passed == total {
		verdict = StatusPassed
	}

	now := time.Now()
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ok, err := s.rides.WithTx(tx).UpdateStatus(ctx, r.ID, r.Status, ride.StatusFinished, r.StatusVersion, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		ok, err = s.store.WithTx(tx).UpdateStatus(ctx, e.ID, e.Status, verdict, e.StatusVersion, string(ride.KindActive), now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("exam finished",
		zap.Int64("exam_id", e.ID),
		zap.Int64("course_id", e.CourseID),
		zap.String("verdict", string(verdict)),
		zap.Int("passed", passed),
		zap.Int("total", total))
	return verdict, nil
}

// Cancel cancels a Planned exam together with its ride; the exam then
// points at the cancellation ledger entry. The ride-side cancellation
// flips the exam in the same transaction, so canceling the ride
// through any path keeps the pair consistent.
func (s *Service) Cancel(ctx context.Context, examID int64, requestorID int64) error {
	e, err := s.store.Get(ctx, examID)
	if err != nil {
		return err
	}
	if e.Status != StatusPlanned {
		return ErrInvalidState
	}

	lookup, err := s.rides.Find(ctx, e.RideID)
	if err != nil {
		return err
	}
	now := time.Now()
	if lookup.Kind == ride.KindCanceled {
		// The ride is already ledgered; bring the exam record in line.
		ok, err := s.store.UpdateStatus(ctx, e.ID, e.Status, StatusCanceled, e.StatusVersion, string(ride.KindCanceled), now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConflict
		}
		return nil
	}

	r := lookup.Active
	if !ride.CanTransition(r.Status, ride.StatusCanceled) {
		return ErrInvalidState
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// DeleteAndRecordCancel also flips the bound exam to Canceled.
		return s.rides.WithTx(tx).DeleteAndRecordCancel(ctx, r, requestorID, now)
	})
}
