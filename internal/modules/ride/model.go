// README: Ride aggregate, cancellation ledger record, and status definitions.
package ride

import (
	"time"
)

type Status string

const (
	StatusPlanned  Status = "planned"
	StatusOngoing  Status = "ongoing"
	StatusFinished Status = "finished"
	StatusCanceled Status = "canceled"
)

// AllowedTransitions represents the ride state flow as code.
// Finished and Canceled are terminal; Canceled only exists as a ledger
// record, never as a rides row.
var AllowedTransitions = map[Status][]Status{
	StatusPlanned: {StatusOngoing, StatusCanceled},
	StatusOngoing: {StatusFinished},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Ride is an active scheduled session. PlannedStart/PlannedEnd copy the
// slot's window at booking time; StartedAt/EndedAt are the actual
// instants stamped by the lifecycle manager.
type Ride struct {
	ID             int64
	SlotID         int64
	CourseID       int64
	StudentID      int64
	InstructorID   int64
	VehicleID      int64
	Status         Status
	StatusVersion  int
	PlannedStart   time.Time
	PlannedEnd     time.Time
	DurationHalves int
	StartedAt      *time.Time
	EndedAt        *time.Time
	CreatedAt      time.Time
}

// CanceledRide is the immutable ledger entry a Planned ride turns into
// on cancellation. It keeps the originally planned window and drops the
// slot reference (the slot is freed for reuse).
type CanceledRide struct {
	RideID       int64
	CourseID     int64
	StudentID    int64
	InstructorID int64
	VehicleID    int64
	PlannedStart time.Time
	PlannedEnd   time.Time
	CanceledBy   int64
	CanceledAt   time.Time
}

type Kind string

const (
	KindActive   Kind = "active"
	KindCanceled Kind = "canceled"
)

// Lookup is the tagged variant a ride id resolves to: exactly one of
// Active or Canceled is set, selected by Kind.
type Lookup struct {
	Kind     Kind
	Active   *Ride
	Canceled *CanceledRide
}

// DurationHalves converts a window to half-hour increments, rounding up.
func DurationHalves(start, end time.Time) int {
	minutes := int(end.Sub(start).Minutes())
	halves := minutes / 30
	if minutes%30 != 0 {
		halves++
	}
	return halves
}
