// README: Exam aggregate, checklist registry, and scoring rules.
package exam

import (
	"time"

	"autoszkola/internal/modules/ride"
	"autoszkola/internal/types"
)

type Status string

const (
	StatusPlanned  Status = "planned"
	StatusOngoing  Status = "ongoing"
	StatusCanceled Status = "canceled"
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusPassed || s == StatusFailed
}

// Scope selects one of the two checklists.
type Scope string

const (
	ScopeManeuver Scope = "maneuver"
	ScopeDriving  Scope = "driving"
)

// CriterionState is the tri-state value of a checklist item. The zero
// value means the item has not been assessed yet.
type CriterionState string

const (
	StateNone        CriterionState = ""
	StateFailedOnce  CriterionState = "failed_once"
	StateFailedTwice CriterionState = "failed_twice"
	StatePassed      CriterionState = "passed"
)

func ValidState(s CriterionState) bool {
	return s == StateFailedOnce || s == StateFailedTwice || s == StatePassed
}

// CriterionID is the explicit identifier a caller uses to address a
// checklist item.
type CriterionID string

const (
	CritDrivePrep         CriterionID = "drive_prep"
	CritDiagonalPark      CriterionID = "diagonal_park"
	CritPerpendicularPark CriterionID = "perpendicular_park"
	CritParallelPark      CriterionID = "parallel_park"
	CritHillStart         CriterionID = "hill_start"
	CritTurnaround        CriterionID = "turnaround"

	CritJunctionConduct  CriterionID = "junction_conduct"
	CritLaneChange       CriterionID = "lane_change"
	CritSpeedLimits      CriterionID = "speed_limits"
	CritObservation      CriterionID = "observation"
	CritSignalling       CriterionID = "signalling"
	CritIndependentDrive CriterionID = "independent_drive"
	CritDefensiveDrive   CriterionID = "defensive_drive"
)

type criterionSpec struct {
	Scope    Scope
	Name     string
	Excluded types.CategorySet
}

// registry maps every criterion id to its checklist and the vehicle
// categories in which it does not apply.
var registry = map[CriterionID]criterionSpec{
	CritDrivePrep:         {Scope: ScopeManeuver, Name: "Preparation for the drive"},
	CritDiagonalPark:      {Scope: ScopeManeuver, Name: "Diagonal parking", Excluded: types.CategorySet{types.CategoryA, types.CategoryA1}},
	CritPerpendicularPark: {Scope: ScopeManeuver, Name: "Perpendicular parking", Excluded: types.CategorySet{types.CategoryA, types.CategoryA1}},
	CritParallelPark:      {Scope: ScopeManeuver, Name: "Parallel parking", Excluded: types.CategorySet{types.CategoryA, types.CategoryA1, types.CategoryT}},
	CritHillStart:         {Scope: ScopeManeuver, Name: "Hill start"},
	CritTurnaround:        {Scope: ScopeManeuver, Name: "Turnaround on a narrow road", Excluded: types.CategorySet{types.CategoryD}},

	CritJunctionConduct:  {Scope: ScopeDriving, Name: "Conduct at junctions"},
	CritLaneChange:       {Scope: ScopeDriving, Name: "Lane changes"},
	CritSpeedLimits:      {Scope: ScopeDriving, Name: "Observing speed limits"},
	CritObservation:      {Scope: ScopeDriving, Name: "Observation and mirrors"},
	CritSignalling:       {Scope: ScopeDriving, Name: "Signalling intentions"},
	CritIndependentDrive: {Scope: ScopeDriving, Name: "Independent driving"},
	CritDefensiveDrive:   {Scope: ScopeDriving, Name: "Defensive driving", Excluded: types.CategorySet{types.CategoryT}},
}

// Criterion is one scored checklist item.
type Criterion struct {
	ID       CriterionID       `json:"id"`
	Name     string            `json:"name"`
	State    CriterionState    `json:"state"`
	Excluded types.CategorySet `json:"excluded,omitempty"`
}

// ExamResult holds the two checklists. Stored as a JSONB column.
type ExamResult struct {
	Maneuver []Criterion `json:"maneuver"`
	Driving  []Criterion `json:"driving"`
}

// NewResult builds the default result from the registry, every item
// unassessed.
func NewResult() ExamResult {
	var res ExamResult
	for _, id := range orderedIDs {
		spec := registry[id]
		c := Criterion{ID: id, Name: spec.Name, Excluded: spec.Excluded}
		switch spec.Scope {
		case ScopeManeuver:
			res.Maneuver = append(res.Maneuver, c)
		case ScopeDriving:
			res.Driving = append(res.Driving, c)
		}
	}
	return res
}

var orderedIDs = []CriterionID{
	CritDrivePrep, CritDiagonalPark, CritPerpendicularPark, CritParallelPark, CritHillStart, CritTurnaround,
	CritJunctionConduct, CritLaneChange, CritSpeedLimits, CritObservation, CritSignalling, CritIndependentDrive, CritDefensiveDrive,
}

// SetState writes the new tri-state value for the named item within the
// selected checklist, preserving the exclusion set. Returns false when
// the id does not resolve in that scope.
func (r *ExamResult) SetState(scope Scope, id CriterionID, state CriterionState) bool {
	items := r.checklist(scope)
	for i := range items {
		if items[i].ID == id {
			items[i].State = state
			return true
		}
	}
	return false
}

func (r *ExamResult) checklist(scope Scope) []Criterion {
	if scope == ScopeManeuver {
		return r.Maneuver
	}
	return r.Driving
}

// Score counts passed and applicable items for the course category.
// Maneuver items pass only when exactly Passed; driving items pass
// unless FailedTwice. Items excluded in the category leave both counts.
func (r ExamResult) Score(category types.Category) (passed, total int) {
	for _, c := range r.Maneuver {
		if c.Excluded.Contains(category) {
			continue
		}
		total++
		if c.State == StatePassed {
			passed++
		}
	}
	for _, c := range r.Driving {
		if c.Excluded.Contains(category) {
			continue
		}
		total++
		if c.State != StateFailedTwice {
			passed++
		}
	}
	return passed, total
}

// Exam binds 1:1 to a ride by id plus the kind it had when last
// observed; Canceled rides keep the exam addressable for history.
type Exam struct {
	ID            int64
	CourseID      int64
	RideID        int64
	RideKind      ride.Kind
	Status        Status
	StatusVersion int
	Result        ExamResult
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
