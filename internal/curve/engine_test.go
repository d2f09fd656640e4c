package curve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// reference parameters: 100 lamports per token per token, zero base price
var testParams = Params{Slope: 100 * PriceScale, BasePrice: 0}

func TestSpotPrice(t *testing.T) {
	price, err := testParams.SpotPrice(5_000_000)
	require.NoError(t, err)
	// 100 * 5,000,000 lamports, PriceScale fixed point
	require.EqualValues(t, uint64(500_000_000)*PriceScale, price)

	price, err = testParams.SpotPrice(0)
	require.NoError(t, err)
	require.Zero(t, price)

	withBase := Params{Slope: 100 * PriceScale, BasePrice: 7 * PriceScale}
	price, err = withBase.SpotPrice(10)
	require.NoError(t, err)
	require.EqualValues(t, uint64(1007)*PriceScale, price)
}

func TestQuoteBuy(t *testing.T) {
	// integral of 100*s over [5,000,000, 5,001,000]:
	// 100 * (5,001,000^2 - 5,000,000^2) / 2 = 500,050,000,000 lamports
	cost, err := testParams.QuoteBuy(5_000_000, 1_000)
	require.NoError(t, err)
	require.EqualValues(t, 500_050_000_000, cost)

	cost, err = testParams.QuoteBuy(0, 1)
	require.NoError(t, err)
	require.EqualValues(t, 50, cost) // 100 * 1 / 2

	cost, err = testParams.QuoteBuy(123_456, 0)
	require.NoError(t, err)
	require.Zero(t, cost)
}

func TestQuoteBuyMonotonic(t *testing.T) {
	prev := uint64(0)
	for supply := uint64(0); supply < 10_000; supply += 1_000 {
		cost, err := testParams.QuoteBuy(supply, 500)
		require.NoError(t, err)
		require.GreaterOrEqual(t, cost, prev, "buy cost must not decrease with supply")
		prev = cost
	}
}

func TestQuoteSell(t *testing.T) {
	proceeds, err := testParams.QuoteSell(5_001_000, 1_000)
	require.NoError(t, err)
	require.EqualValues(t, 500_050_000_000, proceeds)

	_, err = testParams.QuoteSell(999, 1_000)
	require.ErrorIs(t, err, ErrInsufficientSupply)

	proceeds, err = testParams.QuoteSell(1_000, 0)
	require.NoError(t, err)
	require.Zero(t, proceeds)
}

func TestBuySellRoundTrip(t *testing.T) {
	// selling exactly what was bought at the resulting supply returns the
	// same integral, token for token
	for _, amount := range []uint64{1, 17, 1_000, 250_000} {
		supply := uint64(5_000_000)
		cost, err := testParams.QuoteBuy(supply, amount)
		require.NoError(t, err)

		proceeds, err := testParams.QuoteSell(supply+amount, amount)
		require.NoError(t, err)
		require.Equal(t, cost, proceeds, "amount %d", amount)
	}
}

func TestQuoteOverflow(t *testing.T) {
	_, err := testParams.QuoteBuy(math.MaxUint64, 1)
	require.ErrorIs(t, err, ErrOverflow)

	// cost itself exceeds uint64 long before the supply does
	_, err = testParams.QuoteBuy(0, math.MaxUint64/2)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestReserve(t *testing.T) {
	reserve, err := testParams.Reserve(1_000)
	require.NoError(t, err)
	require.EqualValues(t, 50_000_000, reserve) // 100 * 1,000^2 / 2

	buy, err := testParams.QuoteBuy(0, 1_000)
	require.NoError(t, err)
	require.Equal(t, buy, reserve)
}

func TestEngineApplyBuy(t *testing.T) {
	e := NewEngine(State{TotalSupply: 5_000_000, Params: testParams})

	quoted, err := e.QuoteBuy(1_000)
	require.NoError(t, err)

	cost, state, err := e.ApplyBuy(1_000)
	require.NoError(t, err)
	require.Equal(t, quoted, cost)
	require.EqualValues(t, 5_001_000, state.TotalSupply)
	require.EqualValues(t, 5_001_000, e.Snapshot().TotalSupply)
}

func TestEngineApplySell(t *testing.T) {
	e := NewEngine(State{TotalSupply: 5_001_000, Params: testParams})

	proceeds, state, err := e.ApplySell(1_000)
	require.NoError(t, err)
	require.EqualValues(t, 500_050_000_000, proceeds)
	require.EqualValues(t, 5_000_000, state.TotalSupply)

	_, _, err = e.ApplySell(6_000_000)
	require.ErrorIs(t, err, ErrInsufficientSupply)
	require.EqualValues(t, 5_000_000, e.Snapshot().TotalSupply, "failed sell must not move supply")
}
