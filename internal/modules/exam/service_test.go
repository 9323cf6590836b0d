// README: DB-backed exam lifecycle tests: scheduling guards, checklist updates, verdicts, lockstep cancel.
package exam_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"autoszkola/internal/modules/course"
	"autoszkola/internal/modules/exam"
	"autoszkola/internal/modules/ride"
	"autoszkola/internal/modules/schedule"
	"autoszkola/internal/testdb"
)

type examFixture struct {
	pool      *pgxpool.Pool
	exams     *exam.Service
	rides     *ride.Service
	scheduler *schedule.Service
	courseID  int64
	vehicleID int64
}

func newExamFixture(t *testing.T) *examFixture {
	t.Helper()
	pool := testdb.New(t)

	courses := course.NewStore(pool)
	rideStore := ride.NewStore(pool)
	return &examFixture{
		pool:      pool,
		exams:     exam.NewService(pool, exam.NewStore(pool), rideStore, courses, zap.NewNop()),
		rides:     ride.NewService(pool, rideStore, courses, courses, zap.NewNop()),
		scheduler: schedule.NewService(pool, schedule.NewStore(pool), rideStore, courses, courses, zap.NewNop()),
		courseID:  testdb.SeedCourse(t, pool, 101, "B"),
		vehicleID: testdb.SeedVehicle(t, pool, "WX 12345", "B"),
	}
}

func (f *examFixture) bookRide(t *testing.T, hour int) *ride.Ride {
	t.Helper()
	day := time.Now().AddDate(0, 0, 1).Truncate(time.Hour)
	slot, err := f.scheduler.CreateSlot(context.Background(), 7,
		day.Add(time.Duration(hour)*time.Hour), day.Add(time.Duration(hour+1)*time.Hour))
	require.NoError(t, err)
	r, err := f.scheduler.CreateRide(context.Background(), slot.ID, f.courseID, f.vehicleID)
	require.NoError(t, err)
	return r
}

// fillChecklist marks every applicable item passed.
func fillChecklist(t *testing.T, f *examFixture, examID int64) {
	t.Helper()
	ctx := context.Background()
	e, err := f.exams.Get(ctx, examID)
	require.NoError(t, err)
	for _, c := range e.Result.Maneuver {
		require.NoError(t, f.exams.UpdateCriterionState(ctx, examID, exam.ScopeManeuver, c.ID, exam.StatePassed))
	}
	for _, c := range e.Result.Driving {
		require.NoError(t, f.exams.UpdateCriterionState(ctx, examID, exam.ScopeDriving, c.ID, exam.StatePassed))
	}
}

func TestScheduleGuards(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	e, err := f.exams.Schedule(ctx, f.courseID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusPlanned, e.Status)
	assert.Len(t, e.Result.Maneuver, 6)
	assert.Len(t, e.Result.Driving, 7)

	// One open exam per course.
	other := f.bookRide(t, 12)
	_, err = f.exams.Schedule(ctx, f.courseID, other.ID)
	assert.ErrorIs(t, err, exam.ErrExamOpen)

	// An already-started ride cannot host an exam.
	f2 := testdb.SeedCourse(t, f.pool, 102, "B")
	started := func() *ride.Ride {
		day := time.Now().AddDate(0, 0, 2).Truncate(time.Hour)
		slot, err := f.scheduler.CreateSlot(ctx, 8, day.Add(10*time.Hour), day.Add(11*time.Hour))
		require.NoError(t, err)
		r2, err := f.scheduler.CreateRide(ctx, slot.ID, f2, f.vehicleID)
		require.NoError(t, err)
		require.NoError(t, f.rides.Start(ctx, r2.ID))
		return r2
	}()
	_, err = f.exams.Schedule(ctx, f2, started.ID)
	assert.ErrorIs(t, err, exam.ErrInvalidState)
}

func TestScheduleRejectsPassedCourse(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	_, err := f.pool.Exec(ctx, `UPDATE courses SET internal_exam_passed = TRUE WHERE id = $1`, f.courseID)
	require.NoError(t, err)

	r := f.bookRide(t, 10)
	_, err = f.exams.Schedule(ctx, f.courseID, r.ID)
	assert.ErrorIs(t, err, exam.ErrAlreadyPassed)
}

func TestExamPassVerdict(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	e, err := f.exams.Schedule(ctx, f.courseID, r.ID)
	require.NoError(t, err)

	// Checklist writes only apply while the exam runs.
	err = f.exams.UpdateCriterionState(ctx, e.ID, exam.ScopeManeuver, exam.CritHillStart, exam.StatePassed)
	assert.ErrorIs(t, err, exam.ErrInvalidState)

	require.NoError(t, f.exams.Start(ctx, e.ID))
	got, err := f.rides.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusOngoing, got.Active.Status)

	fillChecklist(t, f, e.ID)
	// A single driving slip is tolerated.
	require.NoError(t, f.exams.UpdateCriterionState(ctx, e.ID, exam.ScopeDriving, exam.CritLaneChange, exam.StateFailedOnce))

	verdict, err := f.exams.End(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusPassed, verdict)

	got, err = f.rides.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusFinished, got.Active.Status)

	// Terminal exams accept no more checklist writes.
	err = f.exams.UpdateCriterionState(ctx, e.ID, exam.ScopeDriving, exam.CritLaneChange, exam.StatePassed)
	assert.ErrorIs(t, err, exam.ErrInvalidState)
}

func TestExamFailVerdict(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	e, err := f.exams.Schedule(ctx, f.courseID, r.ID)
	require.NoError(t, err)
	require.NoError(t, f.exams.Start(ctx, e.ID))

	fillChecklist(t, f, e.ID)
	// Twice-failed driving item sinks the exam.
	require.NoError(t, f.exams.UpdateCriterionState(ctx, e.ID, exam.ScopeDriving, exam.CritObservation, exam.StateFailedTwice))

	verdict, err := f.exams.End(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusFailed, verdict)

	// A failed exam is terminal; the course can schedule a fresh one.
	next := f.bookRide(t, 12)
	_, err = f.exams.Schedule(ctx, f.courseID, next.ID)
	assert.NoError(t, err)
}

func TestUpdateCriterionStateValidation(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	e, err := f.exams.Schedule(ctx, f.courseID, r.ID)
	require.NoError(t, err)
	require.NoError(t, f.exams.Start(ctx, e.ID))

	err = f.exams.UpdateCriterionState(ctx, e.ID, exam.ScopeDriving, exam.CritLaneChange, "maybe")
	assert.ErrorIs(t, err, exam.ErrBadState)

	// Maneuver item addressed under the wrong scope.
	err = f.exams.UpdateCriterionState(ctx, e.ID, exam.ScopeDriving, exam.CritHillStart, exam.StatePassed)
	assert.ErrorIs(t, err, exam.ErrNoEntity)
}

func TestRideCancelCascadesToExam(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	e, err := f.exams.Schedule(ctx, f.courseID, r.ID)
	require.NoError(t, err)

	// Cancel through the ride manager, not the exam manager.
	require.NoError(t, f.rides.Cancel(ctx, r.ID, 9))

	got, err := f.exams.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusCanceled, got.Status)
	assert.Equal(t, ride.KindCanceled, got.RideKind)

	// The course is free to schedule a fresh exam.
	next := f.bookRide(t, 12)
	_, err = f.exams.Schedule(ctx, f.courseID, next.ID)
	assert.NoError(t, err)
}

func TestCourseCancelAllCascadesToExam(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	e, err := f.exams.Schedule(ctx, f.courseID, r.ID)
	require.NoError(t, err)

	require.NoError(t, f.rides.CancelAll(ctx, f.courseID, 9))

	got, err := f.exams.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusCanceled, got.Status)
	assert.Equal(t, ride.KindCanceled, got.RideKind)
}

func TestCancelRepairsExamWithLedgeredRide(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	require.NoError(t, f.rides.Cancel(ctx, r.ID, 9))

	// A planned exam whose ride is already ledgered should not occur
	// anymore, but historical rows may still carry the shape; Cancel
	// brings such a record in line instead of dead-ending.
	e := &exam.Exam{
		CourseID: f.courseID,
		RideID:   r.ID,
		RideKind: ride.KindActive,
		Status:   exam.StatusPlanned,
		Result:   exam.NewResult(),
	}
	require.NoError(t, exam.NewStore(f.pool).Create(ctx, e))

	require.NoError(t, f.exams.Cancel(ctx, e.ID, 9))
	got, err := f.exams.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusCanceled, got.Status)
	assert.Equal(t, ride.KindCanceled, got.RideKind)
}

func TestExamCancelUnwindsRide(t *testing.T) {
	f := newExamFixture(t)
	ctx := context.Background()

	r := f.bookRide(t, 10)
	e, err := f.exams.Schedule(ctx, f.courseID, r.ID)
	require.NoError(t, err)

	require.NoError(t, f.exams.Cancel(ctx, e.ID, 42))

	got, err := f.exams.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, exam.StatusCanceled, got.Status)
	assert.Equal(t, ride.KindCanceled, got.RideKind)

	// The ride is ledgered and its slot freed.
	lookup, err := f.rides.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ride.KindCanceled, lookup.Kind)
	slot, err := f.scheduler.GetSlot(ctx, r.SlotID)
	require.NoError(t, err)
	assert.False(t, slot.Bound())

	// Canceled is terminal.
	assert.ErrorIs(t, f.exams.Start(ctx, e.ID), exam.ErrInvalidState)
	assert.ErrorIs(t, f.exams.Cancel(ctx, e.ID, 42), exam.ErrInvalidState)

	// And no longer blocks a new exam.
	next := f.bookRide(t, 12)
	_, err = f.exams.Schedule(ctx, f.courseID, next.ID)
	assert.NoError(t, err)
}
