package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"grit-backend/internal/repository"
	"grit-backend/internal/services"
)

// TreasuryHandler handles withdrawal, capacity, scar and staking endpoints
type TreasuryHandler struct {
	governor   *services.WithdrawGovernorService
	attributes *services.AttributeService
}

// NewTreasuryHandler creates a new TreasuryHandler instance
func NewTreasuryHandler(governor *services.WithdrawGovernorService, attributes *services.AttributeService) *TreasuryHandler {
	return &TreasuryHandler{governor: governor, attributes: attributes}
}

type withdrawRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Amount uint64 `json:"amount" binding:"required"`
}

// WithdrawHandler runs a request through the withdrawal governor
// POST /api/v1/treasury/withdraw
func (h *TreasuryHandler) WithdrawHandler(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	auth, err := h.governor.RequestWithdrawal(c.Request.Context(), req.Actor, req.Amount)
	if err != nil {
		var rej *services.Rejection
		if errors.As(err, &rej) {
			c.JSON(rejectionStatus(rej.Code), rej)
			return
		}
		if errors.Is(err, services.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Withdrawal failed"})
		return
	}
	c.JSON(http.StatusOK, auth)
}

// rejectionStatus maps governor reason codes to HTTP status codes.
func rejectionStatus(code services.RejectionCode) int {
	switch code {
	case services.RejectRateLimited, services.RejectCapExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

// GetCapacityHandler returns the actor's capacity report
// GET /api/v1/treasury/capacity/:actor
func (h *TreasuryHandler) GetCapacityHandler(c *gin.Context) {
	actor := c.Param("actor")
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}

	view, err := h.governor.Capacity(c.Request.Context(), actor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute capacity"})
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetWithdrawalHistoryHandler lists the actor's ledger entries, newest first
// GET /api/v1/treasury/withdrawals/:actor
func (h *TreasuryHandler) GetWithdrawalHistoryHandler(c *gin.Context) {
	actor := c.Param("actor")
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor is required"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if parsed > 500 {
			parsed = 500
		}
		limit = parsed
	}

	entries, err := h.governor.History(c.Request.Context(), actor, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load withdrawal history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor": actor, "entries": entries, "count": len(entries)})
}

type scarRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Amount uint64 `json:"amount" binding:"required"`
}

// RecordScarHandler appends a burn record
// POST /api/v1/treasury/scars
func (h *TreasuryHandler) RecordScarHandler(c *gin.Context) {
	var req scarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	scar, err := h.attributes.RecordScar(c.Request.Context(), req.Actor, req.Amount)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record scar"})
		return
	}
	c.JSON(http.StatusOK, scar)
}

type openStakeRequest struct {
	Actor     string `json:"actor" binding:"required"`
	Principal uint64 `json:"principal" binding:"required"`
}

// OpenStakeHandler locks a principal for the actor
// POST /api/v1/staking/open
func (h *TreasuryHandler) OpenStakeHandler(c *gin.Context) {
	var req openStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	position, err := h.attributes.OpenStake(c.Request.Context(), req.Actor, req.Principal)
	if err != nil {
		if errors.Is(err, repository.ErrActiveStakeExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Actor already has an active stake"})
			return
		}
		if errors.Is(err, services.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open stake"})
		return
	}
	c.JSON(http.StatusOK, position)
}

type withdrawStakeRequest struct {
	Actor string `json:"actor" binding:"required"`
}

// WithdrawStakeHandler closes the actor's active position
// POST /api/v1/staking/withdraw
func (h *TreasuryHandler) WithdrawStakeHandler(c *gin.Context) {
	var req withdrawStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	position, err := h.attributes.WithdrawStake(c.Request.Context(), req.Actor)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No active stake for actor"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to withdraw stake"})
		return
	}
	c.JSON(http.StatusOK, position)
}

type resonanceRequest struct {
	Actor string `json:"actor" binding:"required"`
	Delta uint64 `json:"delta" binding:"required"`
}

// AddResonanceHandler accumulates listening resonance for the actor
// POST /api/v1/attributes/resonance
func (h *TreasuryHandler) AddResonanceHandler(c *gin.Context) {
	var req resonanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.attributes.AddResonance(c.Request.Context(), req.Actor, req.Delta); err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add resonance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor": req.Actor, "added": req.Delta})
}
