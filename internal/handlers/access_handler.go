package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"grit-backend/internal/access"
	"grit-backend/internal/services"
)

// AccessHandler handles domain gate queries
type AccessHandler struct {
	attributes *services.AttributeService
}

// NewAccessHandler creates a new AccessHandler instance
func NewAccessHandler(attributes *services.AttributeService) *AccessHandler {
	return &AccessHandler{attributes: attributes}
}

// CheckAccessHandler evaluates one domain gate for an actor
// GET /api/v1/access/:actor/:domain
func (h *AccessHandler) CheckAccessHandler(c *gin.Context) {
	actor := c.Param("actor")
	domain, ok := access.ParseDomain(c.Param("domain"))
	if actor == "" || !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "domain must be one of SOVEREIGN, ASCESIS, HERITAGE, MARKET",
		})
		return
	}

	result, err := h.attributes.CheckAccess(c.Request.Context(), actor, domain)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate gate"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"actor":  actor,
		"domain": domain,
		"result": result,
	})
}
