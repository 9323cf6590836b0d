// README: DB-backed scheduler tests: overlap exclusion, booking guards, and the concurrent-create race.
package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"autoszkola/internal/modules/course"
	"autoszkola/internal/modules/ride"
	"autoszkola/internal/modules/schedule"
	"autoszkola/internal/testdb"
)

func newScheduleService(t *testing.T) (*schedule.Service, *pgxpool.Pool) {
	t.Helper()
	pool := testdb.New(t)
	courses := course.NewStore(pool)
	svc := schedule.NewService(pool, schedule.NewStore(pool), ride.NewStore(pool), courses, courses, zap.NewNop())
	return svc, pool
}

// tomorrowAt keeps test windows safely in the future.
func tomorrowAt(h, m int) time.Time {
	day := time.Now().AddDate(0, 0, 1).Truncate(time.Hour)
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestCreateSlotRejectsOverlap(t *testing.T) {
	svc, _ := newScheduleService(t)
	ctx := context.Background()

	_, err := svc.CreateSlot(ctx, 7, tomorrowAt(10, 0), tomorrowAt(11, 0))
	require.NoError(t, err)

	// 10:30-11:30 collides with 10:00-11:00.
	_, err = svc.CreateSlot(ctx, 7, tomorrowAt(10, 30), tomorrowAt(11, 30))
	assert.ErrorIs(t, err, schedule.ErrSlotOverlap)

	// Touching windows do not collide.
	_, err = svc.CreateSlot(ctx, 7, tomorrowAt(11, 0), tomorrowAt(12, 0))
	assert.NoError(t, err)

	// A different instructor is free to take the same window.
	_, err = svc.CreateSlot(ctx, 8, tomorrowAt(10, 0), tomorrowAt(11, 0))
	assert.NoError(t, err)
}

func TestCreateSlotValidation(t *testing.T) {
	svc, _ := newScheduleService(t)
	ctx := context.Background()

	_, err := svc.CreateSlot(ctx, 7, tomorrowAt(10, 0), tomorrowAt(10, 0))
	assert.ErrorIs(t, err, schedule.ErrInvalidDuration)

	_, err = svc.CreateSlot(ctx, 7, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, schedule.ErrInvalidPlacement)

	// Reversed endpoints normalize instead of failing.
	slot, err := svc.CreateSlot(ctx, 7, tomorrowAt(11, 0), tomorrowAt(10, 0))
	require.NoError(t, err)
	assert.True(t, slot.Start.Before(slot.End))
}

func TestUpdateAndDeleteSlot(t *testing.T) {
	svc, _ := newScheduleService(t)
	ctx := context.Background()

	slot, err := svc.CreateSlot(ctx, 7, tomorrowAt(10, 0), tomorrowAt(11, 0))
	require.NoError(t, err)

	moved, err := svc.UpdateSlot(ctx, slot.ID, tomorrowAt(12, 0), tomorrowAt(13, 0))
	require.NoError(t, err)
	assert.Equal(t, tomorrowAt(12, 0).Unix(), moved.Start.Unix())

	require.NoError(t, svc.DeleteSlot(ctx, slot.ID))
	_, err = svc.GetSlot(ctx, slot.ID)
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func TestBoundSlotIsImmutable(t *testing.T) {
	svc, pool := newScheduleService(t)
	ctx := context.Background()

	courseID := testdb.SeedCourse(t, pool, 101, "B")
	vehicleID := testdb.SeedVehicle(t, pool, "WX 12345", "B")

	slot, err := svc.CreateSlot(ctx, 7, tomorrowAt(10, 0), tomorrowAt(11, 0))
	require.NoError(t, err)

	r, err := svc.CreateRide(ctx, slot.ID, courseID, vehicleID)
	require.NoError(t, err)
	require.Equal(t, ride.StatusPlanned, r.Status)
	assert.Equal(t, 2, r.DurationHalves)

	_, err = svc.UpdateSlot(ctx, slot.ID, tomorrowAt(12, 0), tomorrowAt(13, 0))
	assert.ErrorIs(t, err, schedule.ErrRideAssigned)
	assert.ErrorIs(t, svc.DeleteSlot(ctx, slot.ID), schedule.ErrRideAssigned)

	// Double booking the same slot fails too.
	_, err = svc.CreateRide(ctx, slot.ID, courseID, vehicleID)
	assert.ErrorIs(t, err, schedule.ErrRideAssigned)
}

func TestCreateRideVehicleGuards(t *testing.T) {
	svc, pool := newScheduleService(t)
	ctx := context.Background()

	courseB := testdb.SeedCourse(t, pool, 101, "B")
	courseC := testdb.SeedCourse(t, pool, 102, "C")
	carB := testdb.SeedVehicle(t, pool, "WX 11111", "B", "B1")
	truck := testdb.SeedVehicle(t, pool, "WX 22222", "C")

	slotOne, err := svc.CreateSlot(ctx, 7, tomorrowAt(10, 0), tomorrowAt(11, 0))
	require.NoError(t, err)
	slotTwo, err := svc.CreateSlot(ctx, 8, tomorrowAt(10, 30), tomorrowAt(11, 30))
	require.NoError(t, err)

	// A category-C course cannot ride the B-only car.
	_, err = svc.CreateRide(ctx, slotOne.ID, courseC, carB)
	assert.ErrorIs(t, err, schedule.ErrVehicleUnavailable)

	_, err = svc.CreateRide(ctx, slotOne.ID, courseB, carB)
	require.NoError(t, err)

	// The car is already out in an overlapping window under another
	// instructor.
	_, err = svc.CreateRide(ctx, slotTwo.ID, courseB, carB)
	assert.ErrorIs(t, err, schedule.ErrVehicleUnavailable)

	// A free vehicle in the same window is fine.
	_, err = svc.CreateRide(ctx, slotTwo.ID, courseC, truck)
	assert.NoError(t, err)
}

func TestCreateRideWindowConsistentWithConcurrentEdit(t *testing.T) {
	svc, pool := newScheduleService(t)
	ctx := context.Background()

	courseID := testdb.SeedCourse(t, pool, 101, "B")
	vehicleID := testdb.SeedVehicle(t, pool, "WX 12345", "B")

	// Race a window edit against the booking repeatedly. Whichever
	// lands first, the committed ride must carry the committed slot
	// window, never a stale read.
	for i := 0; i < 8; i++ {
		slot, err := svc.CreateSlot(ctx, 7, tomorrowAt(8+2*i, 0), tomorrowAt(8+2*i, 30))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var updateErr, bookErr error
		var booked *ride.Ride
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, updateErr = svc.UpdateSlot(ctx, slot.ID, tomorrowAt(8+2*i+1, 0), tomorrowAt(8+2*i+1, 30))
		}()
		go func() {
			defer wg.Done()
			booked, bookErr = svc.CreateRide(ctx, slot.ID, courseID, vehicleID)
		}()
		wg.Wait()

		require.NoError(t, bookErr)
		if updateErr != nil {
			require.ErrorIs(t, updateErr, schedule.ErrRideAssigned)
		}

		final, err := svc.GetSlot(ctx, slot.ID)
		require.NoError(t, err)
		require.True(t, final.Bound())
		assert.Equal(t, final.Start.Unix(), booked.PlannedStart.Unix())
		assert.Equal(t, final.End.Unix(), booked.PlannedEnd.Unix())
	}
}

func TestCreateSlotConcurrentRace(t *testing.T) {
	svc, _ := newScheduleService(t)
	ctx := context.Background()

	const attempts = 8
	start, end := tomorrowAt(10, 0), tomorrowAt(11, 0)

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSlot(ctx, 7, start, end)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, rejected int
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, schedule.ErrSlotOverlap)
		rejected++
	}
	assert.Equal(t, 1, created, "exactly one concurrent create may win")
	assert.Equal(t, attempts-1, rejected)
}
