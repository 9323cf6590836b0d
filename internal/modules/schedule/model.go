// README: Schedule slot aggregate and half-open interval helpers.
package schedule

import "time"

// ScheduleSlot is an instructor-owned availability window. RideID is
// set once a ride is booked from it; a bound slot cannot be edited or
// deleted.
type ScheduleSlot struct {
	ID           int64
	InstructorID int64
	Start        time.Time
	End          time.Time
	RideID       *int64
	CreatedAt    time.Time
}

func (s *ScheduleSlot) Bound() bool {
	return s.RideID != nil
}

// Interval is a half-open [Start, End) time window.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Normalize swaps the bounds when they arrive reversed.
func (iv Interval) Normalize() Interval {
	if iv.Start.After(iv.End) {
		return Interval{Start: iv.End, End: iv.Start}
	}
	return iv
}

func (iv Interval) Empty() bool {
	return iv.Start.Equal(iv.End)
}

// Overlaps is the half-open intersection test used by both the
// instructor-slot and vehicle-window guards.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}
