// README: Course, vehicle and hours-package records consumed by the lifecycle modules.
package course

import (
	"time"

	"autoszkola/internal/types"
)

type Course struct {
	ID                 int64
	StudentID          int64
	Category           types.Category
	PaymentSettled     bool
	InternalExamPassed bool
	CreatedAt          time.Time
}

type Vehicle struct {
	ID           int64
	Registration string
	Categories   types.CategorySet
}

// HoursPackage is a purchased bundle of extra driving hours. Deleted
// when its transaction is canceled.
type HoursPackage struct {
	ID        int64
	CourseID  int64
	Hours     int
	CreatedAt time.Time
}
