// README: Error-to-status mapping shared by the JSON handlers.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"autoszkola/internal/gateway"
	"autoszkola/internal/modules/course"
	"autoszkola/internal/modules/exam"
	"autoszkola/internal/modules/payment"
	"autoszkola/internal/modules/ride"
	"autoszkola/internal/modules/schedule"
)

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, schedule.ErrNotFound),
		errors.Is(err, ride.ErrNotFound),
		errors.Is(err, exam.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, course.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schedule.ErrInvalidDuration),
		errors.Is(err, schedule.ErrInvalidPlacement),
		errors.Is(err, exam.ErrNoEntity),
		errors.Is(err, exam.ErrBadState),
		errors.Is(err, payment.ErrPriceMismatch),
		errors.Is(err, payment.ErrNoItems):
		return http.StatusBadRequest
	case errors.Is(err, schedule.ErrSlotOverlap),
		errors.Is(err, schedule.ErrRideAssigned),
		errors.Is(err, schedule.ErrVehicleUnavailable),
		errors.Is(err, ride.ErrInvalidState),
		errors.Is(err, ride.ErrConflict),
		errors.Is(err, ride.ErrVehicleUnavailable),
		errors.Is(err, exam.ErrInvalidState),
		errors.Is(err, exam.ErrConflict),
		errors.Is(err, exam.ErrExamOpen),
		errors.Is(err, exam.ErrAlreadyPassed),
		errors.Is(err, payment.ErrInvalidState),
		errors.Is(err, payment.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
