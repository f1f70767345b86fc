package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzale/apptbooking/internal/domain"
	"github.com/vzale/apptbooking/internal/service/booking"
)

type BookingHandler struct {
	service booking.UseCase
}

type createBookingRequest struct {
	Name           string `json:"name" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Phone          string `json:"phone"`
	StaffID        int64  `json:"staff_id" binding:"required"`
	ServiceID      int64  `json:"service_id" binding:"required"`
	Datetime       string `json:"datetime" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
	ClientID       string `json:"client_id"`
}

type rescheduleRequest struct {
	Datetime string `json:"datetime" binding:"required"`
}

type bookingResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	StrongID      string `json:"strong_id"`
	Status        string `json:"status"`
	ScheduledAt   string `json:"scheduled_at"`
	StaffID       int64  `json:"staff_id"`
}

func NewBookingHandler(service booking.UseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.PUT("/:id", h.reschedule)
	router.DELETE("/:id", h.cancel)
}

func toResponse(a *domain.Appointment) bookingResponse {
	return bookingResponse{
		AppointmentID: a.ID,
		StrongID:      a.StrongID,
		Status:        string(a.Status),
		ScheduledAt:   a.ScheduledAt.UTC().Format(time.RFC3339),
		StaffID:       a.StaffID,
	}
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonMissingField})
		return
	}
	at, err := time.Parse(time.RFC3339, req.Datetime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonInvalidInput})
		return
	}
	if !checkClientID(c, req.ClientID) {
		return
	}

	appt, err := h.service.Book(c.Request.Context(), booking.BookInput{
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		StaffID:        req.StaffID,
		ServiceID:      req.ServiceID,
		ScheduledAt:    at,
		IdempotencyKey: req.IdempotencyKey,
		ClientID:       req.ClientID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toResponse(appt))
}

func (h *BookingHandler) reschedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonInvalidInput})
		return
	}
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonMissingField})
		return
	}
	at, err := time.Parse(time.RFC3339, req.Datetime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonInvalidInput})
		return
	}

	appt, err := h.service.Reschedule(c.Request.Context(), id, at)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResponse(appt))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonInvalidInput})
		return
	}

	appt, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toResponse(appt))
}
