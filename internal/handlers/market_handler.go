package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"grit-backend/internal/curve"
	"grit-backend/internal/models"
	"grit-backend/internal/services"
)

// MarketHandler handles bonding curve market endpoints
type MarketHandler struct {
	market *services.MarketService
}

// NewMarketHandler creates a new MarketHandler instance
func NewMarketHandler(market *services.MarketService) *MarketHandler {
	return &MarketHandler{market: market}
}

// GetMarketStateHandler returns supply, spot price, reserve and the volatility flag
// GET /api/v1/market/state
func (h *MarketHandler) GetMarketStateHandler(c *gin.Context) {
	status, err := h.market.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read market state"})
		return
	}
	c.JSON(http.StatusOK, status)
}

type quoteRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

// QuoteBuyHandler prices a buy without settling it
// POST /api/v1/market/quote/buy
func (h *MarketHandler) QuoteBuyHandler(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cost, err := h.market.QuoteBuy(req.Amount)
	if err != nil {
		h.writeCurveError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"side":   models.TradeSideBuy,
		"amount": req.Amount,
		"cost":   cost,
	})
}

// QuoteSellHandler prices a sell without settling it
// POST /api/v1/market/quote/sell
func (h *MarketHandler) QuoteSellHandler(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	proceeds, err := h.market.QuoteSell(req.Amount)
	if err != nil {
		h.writeCurveError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"side":     models.TradeSideSell,
		"amount":   req.Amount,
		"proceeds": proceeds,
	})
}

type tradeRequest struct {
	Side   models.TradeSide `json:"side" binding:"required"`
	Amount uint64           `json:"amount" binding:"required"`
}

// TradeHandler settles a confirmed trade against the curve
// POST /api/v1/market/trade
func (h *MarketHandler) TradeHandler(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	var (
		receipt *services.TradeReceipt
		err     error
	)
	switch req.Side {
	case models.TradeSideBuy:
		receipt, err = h.market.Buy(c.Request.Context(), req.Amount)
	case models.TradeSideSell:
		receipt, err = h.market.Sell(c.Request.Context(), req.Amount)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be buy or sell"})
		return
	}
	if err != nil {
		if errors.Is(err, services.ErrMarketHalted) {
			c.JSON(http.StatusConflict, gin.H{"error": "Trading halted by volatility glitch"})
			return
		}
		h.writeCurveError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *MarketHandler) writeCurveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, curve.ErrInsufficientSupply):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount exceeds current supply"})
	case errors.Is(err, curve.ErrOverflow):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount out of range"})
	case errors.Is(err, services.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Trade failed"})
	}
}
