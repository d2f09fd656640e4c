package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"grit-backend/internal/services"
)

// RelayHandler handles bridge relay status endpoints
type RelayHandler struct {
	relay *services.RelayService
}

// NewRelayHandler creates a new RelayHandler instance
func NewRelayHandler(relay *services.RelayService) *RelayHandler {
	return &RelayHandler{relay: relay}
}

// GetRelayStatusHandler returns the subscription state, watermark and dead-letter count
// GET /api/v1/relay/status
func (h *RelayHandler) GetRelayStatusHandler(c *gin.Context) {
	if h.relay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Relay not configured"})
		return
	}
	status, err := h.relay.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read relay status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListDeadLettersHandler lists recent dead-lettered events for operators
// GET /api/v1/relay/deadletters?limit=50
func (h *RelayHandler) ListDeadLettersHandler(c *gin.Context) {
	if h.relay == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Relay not configured"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	letters, err := h.relay.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list dead letters"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":        len(letters),
		"dead_letters": letters,
	})
}
