// README: API surface; registers routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autoszkola/internal/gateway"
	"autoszkola/internal/modules/exam"
	"autoszkola/internal/modules/payment"
	"autoszkola/internal/modules/ride"
	"autoszkola/internal/modules/schedule"
)

type ServerDeps struct {
	Schedule *schedule.Service
	Rides    *ride.Service
	Exams    *exam.Service
	Payments *payment.Service
	Verifier *gateway.Verifier
	Logger   *zap.Logger
}

type Server struct {
	schedule *schedule.Service
	rides    *ride.Service
	exams    *exam.Service
	payments *payment.Service
	verifier *gateway.Verifier
	logger   *zap.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		schedule: deps.Schedule,
		rides:    deps.Rides,
		exams:    deps.Exams,
		payments: deps.Payments,
		verifier: deps.Verifier,
		logger:   deps.Logger,
	}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	api := r.Group("/api")

	api.POST("/slots", s.handleCreateSlot)
	api.PUT("/slots/:id", s.handleUpdateSlot)
	api.DELETE("/slots/:id", s.handleDeleteSlot)
	api.GET("/slots", s.handleListSlots)
	api.POST("/slots/:id/rides", s.handleCreateRide)

	api.GET("/rides/:id", s.handleGetRide)
	api.POST("/rides/:id/start", s.handleStartRide)
	api.POST("/rides/:id/end", s.handleEndRide)
	api.POST("/rides/:id/cancel", s.handleCancelRide)
	api.PUT("/rides/:id/vehicle", s.handleChangeVehicle)
	api.POST("/courses/:id/rides/cancel", s.handleCancelAllRides)

	api.POST("/exams", s.handleScheduleExam)
	api.POST("/exams/:id/start", s.handleStartExam)
	api.PATCH("/exams/:id/criteria", s.handleUpdateCriterion)
	api.POST("/exams/:id/end", s.handleEndExam)
	api.POST("/exams/:id/cancel", s.handleCancelExam)

	api.POST("/payments", s.handleCreatePayment)
	api.GET("/payments/:id", s.handleGetPayment)
	api.POST("/payments/:id/refund", s.handleRefundPayment)
	api.POST("/payments/notify", s.handlePaymentNotify)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}
