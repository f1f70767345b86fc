package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vzale/apptbooking/internal/domain"
	"github.com/vzale/apptbooking/internal/service/availability"
)

type AvailabilityHandler struct {
	service availability.UseCase
}

func NewAvailabilityHandler(service availability.UseCase) *AvailabilityHandler {
	return &AvailabilityHandler{service: service}
}

func (h *AvailabilityHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.unavailable)
}

func (h *AvailabilityHandler) unavailable(c *gin.Context) {
	date := c.Query("date")
	staffID, err := strconv.ParseInt(c.Query("staff_id"), 10, 64)
	if date == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonMissingField})
		return
	}
	excludeID, _ := strconv.ParseInt(c.Query("exclude_appointment_id"), 10, 64)
	clientID := c.Query("client_id")

	result, err := h.service.Unavailable(c.Request.Context(), date, staffID, excludeID, clientID)
	if err != nil {
		writeError(c, err)
		return
	}

	writeAvailability(c, result)
}

// writeAvailability renders either the all-unavailable sentinel or the
// per-slot detail. Shared with the sync endpoint.
func writeAvailability(c *gin.Context, result *availability.Availability) {
	if result.All {
		c.JSON(http.StatusOK, gin.H{"unavailable": "all", "reason": result.Reason})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unavailable": result.Times, "details": result.Detail})
}
