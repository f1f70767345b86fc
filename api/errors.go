package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vzale/apptbooking/internal/domain"
)

// writeError maps the domain error taxonomy onto stable HTTP responses.
// Machine-readable codes, not free text, so callers can localize.
func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "reason": verr.Reason})
		return
	}

	var taken *domain.SlotTakenError
	if errors.As(err, &taken) {
		c.JSON(http.StatusConflict, gin.H{"error": "slot_taken", "alternatives": taken.Alternatives})
		return
	}

	if errors.Is(err, domain.ErrDuplicateSubmission) {
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_submission"})
		return
	}

	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
}
