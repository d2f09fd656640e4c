package treasury

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grit-backend/internal/models"
)

var testLimits = Limits{
	BaseCap:           50_000_000, // 0.05 SOL
	MaxScarMultiplier: 5_000,      // 5x
	MaxEfficiency:     2_500,      // 2.5x
	MinStakeDays:      14,
}

func scar(amount uint64, ts int64) models.Scar {
	return models.Scar{Amount: amount, Timestamp: ts}
}

func TestAscesisCapacityNoHistory(t *testing.T) {
	capacity, err := AscesisCapacity(nil, testLimits)
	require.NoError(t, err)
	require.Equal(t, testLimits.BaseCap, capacity)
}

func TestAscesisCapacityDoubling(t *testing.T) {
	// total/initial = 2 gives multiplier 1 + log2(2) = 2 exactly
	scars := []models.Scar{scar(1_000, 100), scar(1_000, 200)}
	capacity, err := AscesisCapacity(scars, testLimits)
	require.NoError(t, err)
	require.EqualValues(t, 2*testLimits.BaseCap, capacity)
}

func TestAscesisCapacitySingleScar(t *testing.T) {
	// one scar: total == initial, log2(1) = 0, capacity stays at base
	capacity, err := AscesisCapacity([]models.Scar{scar(777, 5)}, testLimits)
	require.NoError(t, err)
	require.Equal(t, testLimits.BaseCap, capacity)
}

func TestAscesisCapacityClamped(t *testing.T) {
	// ratio 2^20 would give 21x, clamped to the 5x ceiling
	scars := []models.Scar{scar(1, 1), scar(1<<20-1, 2)}
	capacity, err := AscesisCapacity(scars, testLimits)
	require.NoError(t, err)
	require.EqualValues(t, 5*testLimits.BaseCap, capacity)
}

func TestAscesisCapacityOrderIndependent(t *testing.T) {
	// baseline is the earliest scar by timestamp regardless of slice order
	a := []models.Scar{scar(1_000, 100), scar(3_000, 900)}
	b := []models.Scar{scar(3_000, 900), scar(1_000, 100)}

	capA, err := AscesisCapacity(a, testLimits)
	require.NoError(t, err)
	capB, err := AscesisCapacity(b, testLimits)
	require.NoError(t, err)
	require.Equal(t, capA, capB)
	require.EqualValues(t, 3*testLimits.BaseCap, capA) // total/initial = 4
}

func TestAscesisCapacityZeroInitial(t *testing.T) {
	_, err := AscesisCapacity([]models.Scar{scar(0, 1), scar(500, 2)}, testLimits)
	require.ErrorIs(t, err, ErrInvalidHistory)
}

func TestAscesisCapacityMonotonic(t *testing.T) {
	// appending a scar grows the burned total, so capacity never decreases
	history := []models.Scar{scar(1_000, 1)}
	prev, err := AscesisCapacity(history, testLimits)
	require.NoError(t, err)

	for i := int64(2); i <= 40; i++ {
		history = append(history, scar(uint64(i)*500, i))
		capacity, err := AscesisCapacity(history, testLimits)
		require.NoError(t, err)
		require.GreaterOrEqual(t, capacity, prev, "capacity dropped after scar %d", i)
		prev = capacity
	}
}

func TestLog2Milli(t *testing.T) {
	tests := []struct {
		num, den uint64
		want     uint64
	}{
		{1, 1, 0},
		{1, 2, 0}, // num <= den
		// exact at powers of two
		{2, 1, 1_000},
		{4, 1, 2_000},
		{8, 1, 3_000},
		{1 << 40, 1, 40_000},
		{3, 2, 585},    // log2(1.5) = 0.58496...
		{10, 1, 3_322}, // log2(10) = 3.32192...
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, Log2Milli(tc.num, tc.den), "log2(%d/%d)", tc.num, tc.den)
	}
}

func TestLog2MilliMonotonic(t *testing.T) {
	prev := uint64(0)
	for num := uint64(1); num <= 1_000; num++ {
		got := Log2Milli(num, 1)
		require.GreaterOrEqual(t, got, prev, "num=%d", num)
		prev = got
	}
}

func TestHeritageEfficiency(t *testing.T) {
	now := time.Unix(100_000_000, 0)
	day := int64(24 * 60 * 60)

	tests := []struct {
		name    string
		daysAgo int64
		want    uint64
	}{
		{"no stake", 0, 1_000},
		{"under one period", 29, 1_000},
		{"one period", 30, 1_100},
		{"one period plus", 35, 1_100},
		{"three periods", 95, 1_300},
		{"capped", 600, 2_500},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start := int64(0)
			if tc.daysAgo > 0 {
				start = now.Unix() - tc.daysAgo*day
			}
			require.Equal(t, tc.want, HeritageEfficiency(start, now, testLimits))
		})
	}
}

func TestIsEligible(t *testing.T) {
	now := time.Unix(100_000_000, 0)
	day := int64(24 * 60 * 60)

	require.False(t, IsEligible(0, now, testLimits))
	require.False(t, IsEligible(now.Unix()-13*day, now, testLimits))
	require.True(t, IsEligible(now.Unix()-14*day, now, testLimits))
	require.True(t, IsEligible(now.Unix()-400*day, now, testLimits))
}

func TestBurnCost(t *testing.T) {
	// 1 SOL at 100,000 tokens per lamport-SOL rate, neutral efficiency
	cost, err := BurnCost(1_000_000_000, 100_000, 1_000)
	require.NoError(t, err)
	require.EqualValues(t, uint64(100_000_000_000_000), cost)

	// 1.1x efficiency discounts the burn
	discounted, err := BurnCost(1_000_000_000, 100_000, 1_100)
	require.NoError(t, err)
	require.EqualValues(t, uint64(90_909_090_909_090), discounted)
	require.Less(t, discounted, cost)

	// zero efficiency falls back to neutral instead of dividing by zero
	fallback, err := BurnCost(500, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 5_000, fallback)
}
