// README: Thin JSON handlers over the module services.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"autoszkola/internal/modules/exam"
	"autoszkola/internal/modules/payment"
	"autoszkola/internal/types"
)

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type slotRequest struct {
	InstructorID int64     `json:"instructor_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

func (s *Server) handleCreateSlot(c *gin.Context) {
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot, err := s.schedule.CreateSlot(c.Request.Context(), req.InstructorID, req.Start, req.End)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, slot)
}

func (s *Server) handleUpdateSlot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slot, err := s.schedule.UpdateSlot(c.Request.Context(), id, req.Start, req.End)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (s *Server) handleDeleteSlot(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.schedule.DeleteSlot(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListSlots(c *gin.Context) {
	instructorID, err := strconv.ParseInt(c.Query("instructor_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instructor_id"})
		return
	}
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from/to must be RFC3339"})
		return
	}
	slots, err := s.schedule.ListSlots(c.Request.Context(), instructorID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slots)
}

func (s *Server) handleCreateRide(c *gin.Context) {
	slotID, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		CourseID  int64 `json:"course_id"`
		VehicleID int64 `json:"vehicle_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := s.schedule.CreateRide(c.Request.Context(), slotID, req.CourseID, req.VehicleID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) handleGetRide(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	lookup, err := s.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lookup)
}

func (s *Server) handleStartRide(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.rides.Start(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEndRide(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.rides.End(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCancelRide(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		RequestorID int64 `json:"requestor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.rides.Cancel(c.Request.Context(), id, req.RequestorID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleChangeVehicle(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		VehicleID int64 `json:"vehicle_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.rides.ChangeVehicle(c.Request.Context(), id, req.VehicleID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCancelAllRides(c *gin.Context) {
	courseID, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		RequestorID int64 `json:"requestor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.rides.CancelAll(c.Request.Context(), courseID, req.RequestorID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleScheduleExam(c *gin.Context) {
	var req struct {
		CourseID int64 `json:"course_id"`
		RideID   int64 `json:"ride_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := s.exams.Schedule(c.Request.Context(), req.CourseID, req.RideID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) handleStartExam(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.exams.Start(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdateCriterion(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Scope     string `json:"scope"`
		Criterion string `json:"criterion"`
		State     string `json:"state"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.exams.UpdateCriterionState(c.Request.Context(), id,
		exam.Scope(req.Scope), exam.CriterionID(req.Criterion), exam.CriterionState(req.State))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleEndExam(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	verdict, err := s.exams.End(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verdict": verdict})
}

func (s *Server) handleCancelExam(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		RequestorID int64 `json:"requestor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.exams.Cancel(c.Request.Context(), id, req.RequestorID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type paymentItemRequest struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
	RelatedID *int64 `json:"related_id"`
}

func (s *Server) handleCreatePayment(c *gin.Context) {
	var req struct {
		SchoolID    int64                `json:"school_id"`
		CourseID    *int64               `json:"course_id"`
		Items       []paymentItemRequest `json:"items"`
		PayerName   string               `json:"payer_name"`
		PayerEmail  string               `json:"payer_email"`
		Total       int64                `json:"total"`
		Description string               `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]payment.TransactionItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = payment.TransactionItem{
			Type:      payment.ItemType(it.Type),
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: types.PLN(it.UnitPrice),
			Total:     types.PLN(it.Total),
			RelatedID: it.RelatedID,
		}
	}

	t, err := s.payments.Create(c.Request.Context(), payment.CreateCommand{
		SchoolID:      req.SchoolID,
		CourseID:      req.CourseID,
		Items:         items,
		PayerName:     req.PayerName,
		PayerEmail:    req.PayerEmail,
		DeclaredTotal: types.PLN(req.Total),
		Description:   req.Description,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": t.ID,
		"payment_url":    t.PaymentURL,
	})
}

func (s *Server) handleGetPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	t, err := s.payments.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleRefundPayment(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := s.payments.Refund(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
