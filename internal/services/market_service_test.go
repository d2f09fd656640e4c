package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grit-backend/internal/config"
	"grit-backend/internal/models"
)

var testCurveCfg = config.CurveConfig{
	Slope:         100_000_000, // 100 lamports per token per token
	BasePrice:     0,
	InitialSupply: 5_000_000,
}

type marketFixture struct {
	svc  *MarketService
	repo *fakeCurveRepo
	now  time.Time
}

func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()
	f := &marketFixture{
		repo: &fakeCurveRepo{},
		now:  time.Unix(1_800_000_000, 0),
	}
	svc, err := NewMarketService(context.Background(), testCurveCfg, f.repo)
	require.NoError(t, err)
	svc.SetClock(func() time.Time { return f.now })
	f.svc = svc
	return f
}

func TestMarketSeedsStateOnFirstRun(t *testing.T) {
	f := newMarketFixture(t)

	require.NotNil(t, f.repo.state)
	require.EqualValues(t, testCurveCfg.InitialSupply, f.repo.state.TotalSupply)
	require.EqualValues(t, testCurveCfg.Slope, f.repo.state.Slope)
}

func TestMarketLoadsExistingState(t *testing.T) {
	repo := &fakeCurveRepo{state: &models.CurveStateRecord{
		TotalSupply: 7_777_777,
		Slope:       testCurveCfg.Slope,
		BasePrice:   0,
	}}
	svc, err := NewMarketService(context.Background(), testCurveCfg, repo)
	require.NoError(t, err)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 7_777_777, status.TotalSupply, "durable state wins over config seed")
}

func TestMarketBuyPersistsState(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	quoted, err := f.svc.QuoteBuy(1_000)
	require.NoError(t, err)
	require.EqualValues(t, 500_050_000_000, quoted)

	receipt, err := f.svc.Buy(ctx, 1_000)
	require.NoError(t, err)
	require.Equal(t, quoted, receipt.Cost)
	require.EqualValues(t, 5_001_000, receipt.Supply)

	require.EqualValues(t, 5_001_000, f.repo.state.TotalSupply)
	require.Len(t, f.repo.trades, 1)
	require.Equal(t, models.TradeSideBuy, f.repo.trades[0].Side)
}

func TestMarketSellReversesBuy(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	buy, err := f.svc.Buy(ctx, 2_500)
	require.NoError(t, err)

	sell, err := f.svc.Sell(ctx, 2_500)
	require.NoError(t, err)
	require.Equal(t, buy.Cost, sell.Cost, "round trip over the same interval is symmetric")
	require.EqualValues(t, testCurveCfg.InitialSupply, sell.Supply)
}

func TestMarketVolatilityHalt(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	// two settled prices 20% apart inside the hour
	base := f.now.Unix()
	require.NoError(t, f.repo.AppendTrade(ctx, &models.TradeRecord{
		Side: models.TradeSideBuy, Price: 1_000_000, Timestamp: base - 1_800,
	}))
	require.NoError(t, f.repo.AppendTrade(ctx, &models.TradeRecord{
		Side: models.TradeSideBuy, Price: 1_200_000, Timestamp: base - 600,
	}))

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Glitched)
	require.EqualValues(t, 200, status.MovementMilli)

	_, err = f.svc.Buy(ctx, 100)
	require.ErrorIs(t, err, ErrMarketHalted)

	// once the swing rolls out of the window trading resumes
	f.now = f.now.Add(2 * time.Hour)
	_, err = f.svc.Buy(ctx, 100)
	require.NoError(t, err)
}

func TestMarketVolatilityWithinThreshold(t *testing.T) {
	f := newMarketFixture(t)
	ctx := context.Background()

	base := f.now.Unix()
	require.NoError(t, f.repo.AppendTrade(ctx, &models.TradeRecord{
		Side: models.TradeSideBuy, Price: 1_000_000, Timestamp: base - 1_800,
	}))
	require.NoError(t, f.repo.AppendTrade(ctx, &models.TradeRecord{
		Side: models.TradeSideBuy, Price: 1_100_000, Timestamp: base - 600,
	}))

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.Glitched, "15% swing is the halt boundary, 10% is fine")
}

func TestMarketTokensForDeposit(t *testing.T) {
	f := newMarketFixture(t)

	// spot price at 5,000,000 supply is 500,000,000 lamports per token
	tokens, err := f.svc.TokensForDeposit(1_000_000_000)
	require.NoError(t, err)
	require.EqualValues(t, 2, tokens)

	tokens, err = f.svc.TokensForDeposit(499_999_999)
	require.NoError(t, err)
	require.Zero(t, tokens, "sub-price deposits floor to zero tokens")
}

func TestMarketStatusReserve(t *testing.T) {
	f := newMarketFixture(t)

	status, err := f.svc.Status(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, testCurveCfg.InitialSupply, status.TotalSupply)
	// integral of 100*s over [0, 5,000,000]
	require.EqualValues(t, uint64(1_250_000_000_000_000), status.Reserve)
}
