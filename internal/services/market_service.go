package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"grit-backend/internal/config"
	"grit-backend/internal/curve"
	"grit-backend/internal/metrics"
	"grit-backend/internal/models"
	"grit-backend/internal/repository"
)

// Volatility monitor parameters: a spot price swing of more than 15% inside
// one hour marks the market as glitched until the window rolls past it.
const (
	volatilityWindow         = time.Hour
	volatilityThresholdMilli = 150
)

var ErrMarketHalted = errors.New("market: trading halted by volatility glitch")

// TradeReceipt is the settlement result of one executed trade.
type TradeReceipt struct {
	Side      models.TradeSide `json:"side"`
	Amount    uint64           `json:"amount"`
	Cost      uint64           `json:"cost"` // lamports paid (buy) or received (sell)
	Supply    uint64           `json:"supply"`
	Price     uint64           `json:"price"` // spot price after settlement
	Timestamp int64            `json:"timestamp"`
}

// MarketStatus is the read-only market view.
type MarketStatus struct {
	TotalSupply   uint64 `json:"total_supply"`
	SpotPrice     uint64 `json:"spot_price"`
	Reserve       uint64 `json:"reserve"`
	Glitched      bool   `json:"glitched"`
	MovementMilli uint64 `json:"movement_milli"` // largest price swing in the window
}

// MarketService settles bonding curve trades and persists the curve state.
// The in-memory engine is authoritative between restarts; the durable record
// is written after every settlement and reloaded on startup.
type MarketService struct {
	engine *curve.Engine
	repo   repository.CurveRepository
	now    func() time.Time

	mu sync.Mutex // serializes settle-then-persist
}

// NewMarketService loads the durable curve state, seeding it from config on
// first run.
func NewMarketService(ctx context.Context, cfg config.CurveConfig, repo repository.CurveRepository) (*MarketService, error) {
	record, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load curve state: %w", err)
	}
	if record == nil {
		record = &models.CurveStateRecord{
			TotalSupply: cfg.InitialSupply,
			Slope:       cfg.Slope,
			BasePrice:   cfg.BasePrice,
		}
		if err := repo.Save(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to seed curve state: %w", err)
		}
		logrus.WithField("initial_supply", cfg.InitialSupply).Info("curve state initialized")
	}

	engine := curve.NewEngine(curve.State{
		TotalSupply: record.TotalSupply,
		Params: curve.Params{
			Slope:     record.Slope,
			BasePrice: record.BasePrice,
		},
	})
	metrics.CurveSupply.Set(float64(record.TotalSupply))

	return &MarketService{
		engine: engine,
		repo:   repo,
		now:    time.Now,
	}, nil
}

// SetClock overrides the time source. Used by tests.
func (s *MarketService) SetClock(now func() time.Time) {
	s.now = now
}

// QuoteBuy prices a buy at the current supply.
func (s *MarketService) QuoteBuy(amount uint64) (uint64, error) {
	return s.engine.QuoteBuy(amount)
}

// QuoteSell prices a sell at the current supply.
func (s *MarketService) QuoteSell(amount uint64) (uint64, error) {
	return s.engine.QuoteSell(amount)
}

// Buy settles a purchase of amount tokens. Trading is refused while the
// volatility monitor reports a glitch.
func (s *MarketService) Buy(ctx context.Context, amount uint64) (*TradeReceipt, error) {
	return s.settle(ctx, models.TradeSideBuy, amount)
}

// Sell settles a sale of amount tokens back into the curve.
func (s *MarketService) Sell(ctx context.Context, amount uint64) (*TradeReceipt, error) {
	return s.settle(ctx, models.TradeSideSell, amount)
}

func (s *MarketService) settle(ctx context.Context, side models.TradeSide, amount uint64) (*TradeReceipt, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	glitched, _, err := s.volatilityLocked(ctx)
	if err != nil {
		return nil, err
	}
	if glitched {
		return nil, ErrMarketHalted
	}

	var (
		cost  uint64
		state curve.State
	)
	if side == models.TradeSideBuy {
		cost, state, err = s.engine.ApplyBuy(amount)
	} else {
		cost, state, err = s.engine.ApplySell(amount)
	}
	if err != nil {
		return nil, err
	}

	price, err := state.Params.SpotPrice(state.TotalSupply)
	if err != nil {
		return nil, err
	}

	now := s.now()
	commitCtx := context.WithoutCancel(ctx)
	if err := s.repo.Save(commitCtx, &models.CurveStateRecord{
		TotalSupply: state.TotalSupply,
		Slope:       state.Params.Slope,
		BasePrice:   state.Params.BasePrice,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist curve state: %w", err)
	}

	trade := &models.TradeRecord{
		Side:      side,
		Amount:    amount,
		Cost:      cost,
		Supply:    state.TotalSupply,
		Price:     price,
		Timestamp: now.Unix(),
	}
	if err := s.repo.AppendTrade(commitCtx, trade); err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}

	metrics.CurveSupply.Set(float64(state.TotalSupply))
	metrics.TradesSettled.WithLabelValues(string(side)).Inc()

	logrus.WithFields(logrus.Fields{
		"side":   side,
		"amount": amount,
		"cost":   cost,
		"supply": state.TotalSupply,
	}).Info("trade settled")

	return &TradeReceipt{
		Side:      side,
		Amount:    amount,
		Cost:      cost,
		Supply:    state.TotalSupply,
		Price:     price,
		Timestamp: trade.Timestamp,
	}, nil
}

// Status returns the current market view including the volatility flag.
func (s *MarketService) Status(ctx context.Context) (*MarketStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.engine.Snapshot()
	price, err := state.Params.SpotPrice(state.TotalSupply)
	if err != nil {
		return nil, err
	}
	reserve, err := state.Params.Reserve(state.TotalSupply)
	if err != nil {
		return nil, err
	}
	glitched, movement, err := s.volatilityLocked(ctx)
	if err != nil {
		return nil, err
	}

	return &MarketStatus{
		TotalSupply:   state.TotalSupply,
		SpotPrice:     price,
		Reserve:       reserve,
		Glitched:      glitched,
		MovementMilli: movement,
	}, nil
}

// TokensForDeposit converts a source deposit into token base units at the
// current spot price. Used by the relay in curve pricing mode.
func (s *MarketService) TokensForDeposit(lamports uint64) (uint64, error) {
	price, err := s.engine.SpotPrice()
	if err != nil {
		return 0, err
	}
	if price == 0 {
		return 0, fmt.Errorf("curve spot price is zero, cannot price deposit")
	}
	v := new(uint256.Int).Mul(uint256.NewInt(lamports), uint256.NewInt(curve.PriceScale))
	v.Div(v, uint256.NewInt(price))
	if !v.IsUint64() {
		return 0, fmt.Errorf("deposit of %d lamports overflows curve pricing", lamports)
	}
	return v.Uint64(), nil
}

// volatilityLocked reports whether the settled price moved more than the
// threshold inside the window. Movement is measured low-to-high in milli-units.
func (s *MarketService) volatilityLocked(ctx context.Context) (bool, uint64, error) {
	since := s.now().Add(-volatilityWindow).Unix()
	trades, err := s.repo.FindTradesSince(ctx, since)
	if err != nil {
		return false, 0, fmt.Errorf("failed to load trade window: %w", err)
	}
	if len(trades) < 2 {
		return false, 0, nil
	}

	low, high := trades[0].Price, trades[0].Price
	for _, t := range trades[1:] {
		if t.Price < low {
			low = t.Price
		}
		if t.Price > high {
			high = t.Price
		}
	}
	if low == 0 {
		return false, 0, nil
	}

	movement := (high - low) * 1000 / low
	return movement > volatilityThresholdMilli, movement, nil
}
