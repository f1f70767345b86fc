package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vzale/apptbooking/internal/domain"
	"github.com/vzale/apptbooking/internal/service/availability"
	"github.com/vzale/apptbooking/internal/service/slots"
)

type SlotHandler struct {
	locks        *slots.LockManager
	tracker      *slots.SelectionTracker
	availability availability.UseCase
}

type slotRequest struct {
	Date     string `json:"date" binding:"required"`
	StaffID  int64  `json:"staff_id" binding:"required"`
	Time     string `json:"time" binding:"required"`
	ClientID string `json:"client_id" binding:"required"`
	Mode     string `json:"mode"`
}

type deselectRequest struct {
	Date    string `json:"date" binding:"required"`
	StaffID int64  `json:"staff_id" binding:"required"`
	Time    string `json:"time" binding:"required"`
}

type unlockRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// syncRequest is one poll tick: it refreshes the client's selection lease
// and returns the merged unavailable view in a single round trip.
type syncRequest struct {
	Date     string `json:"date" binding:"required"`
	StaffID  int64  `json:"staff_id" binding:"required"`
	ClientID string `json:"client_id" binding:"required"`
	Selected string `json:"selected"`
}

func NewSlotHandler(locks *slots.LockManager, tracker *slots.SelectionTracker, avail availability.UseCase) *SlotHandler {
	return &SlotHandler{locks: locks, tracker: tracker, availability: avail}
}

func (h *SlotHandler) Register(router *gin.RouterGroup) {
	router.POST("/select", h.selectSlot)
	router.POST("/deselect", h.deselect)
	router.POST("/lock", h.lock)
	router.POST("/unlock", h.unlock)
	router.POST("/sync", h.sync)
}

func bindSlotRequest[T any](c *gin.Context, req *T) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonMissingField})
		return false
	}
	return true
}

// checkClientID rejects ids containing the separator used inside stored lock
// and selection values; such an id would decode as a different holder.
func checkClientID(c *gin.Context, clientID string) bool {
	if strings.Contains(clientID, "|") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": domain.ReasonInvalidInput})
		return false
	}
	return true
}

func (h *SlotHandler) selectSlot(c *gin.Context) {
	var req slotRequest
	if !bindSlotRequest(c, &req) || !checkClientID(c, req.ClientID) {
		return
	}
	if err := h.tracker.Select(c.Request.Context(), req.Date, req.StaffID, req.Time, req.ClientID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "selected"})
}

func (h *SlotHandler) deselect(c *gin.Context) {
	var req deselectRequest
	if !bindSlotRequest(c, &req) {
		return
	}
	if err := h.tracker.Deselect(c.Request.Context(), req.Date, req.StaffID, req.Time); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deselected"})
}

func (h *SlotHandler) lock(c *gin.Context) {
	var req slotRequest
	if !bindSlotRequest(c, &req) || !checkClientID(c, req.ClientID) {
		return
	}
	kind := slots.LockSelect
	if req.Mode == "processing" {
		kind = slots.LockProcessing
	}

	token, err := h.locks.TryLock(c.Request.Context(), req.Date, req.StaffID, req.Time, req.ClientID, kind)
	if err != nil {
		switch {
		case errors.Is(err, slots.ErrSlotLocked):
			c.JSON(http.StatusConflict, gin.H{"error": "slot_locked"})
		case errors.Is(err, slots.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "validation_error", "reason": domain.ReasonRateLimited})
		default:
			writeError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": token.Key, "value": token.Value})
}

func (h *SlotHandler) unlock(c *gin.Context) {
	var req unlockRequest
	if !bindSlotRequest(c, &req) {
		return
	}
	if err := h.locks.Unlock(c.Request.Context(), &slots.LockToken{Key: req.Key, Value: req.Value}); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlocked"})
}

func (h *SlotHandler) sync(c *gin.Context) {
	var req syncRequest
	if !bindSlotRequest(c, &req) || !checkClientID(c, req.ClientID) {
		return
	}
	if req.Selected != "" {
		if err := h.tracker.Select(c.Request.Context(), req.Date, req.StaffID, req.Selected, req.ClientID); err != nil {
			writeError(c, err)
			return
		}
	}

	result, err := h.availability.Unavailable(c.Request.Context(), req.Date, req.StaffID, 0, req.ClientID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeAvailability(c, result)
}
