// Package treasury implements the capacity model: pure functions over a
// participant's scar and stake history. Nothing here touches external state.
package treasury

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"grit-backend/internal/models"
)

// MultiplierScale is the fixed-point scale of all multipliers (milli-units).
const MultiplierScale = 1000

const secondsPerDay = 24 * 60 * 60

var (
	ErrInvalidHistory = errors.New("treasury: invalid scar history")
	ErrOverflow       = errors.New("treasury: arithmetic overflow")
)

// Limits are the capacity model parameters, taken from config.
type Limits struct {
	BaseCap           uint64 // lamports
	MaxScarMultiplier uint64 // milli-units
	MaxEfficiency     uint64 // milli-units
	MinStakeDays      int
}

// AscesisCapacity computes the maximum lamports a participant may withdraw
// from their burn history:
//
//	capacity = BaseCap * clamp(1 + log2(total/initial), 1, MaxScarMultiplier)
//
// where initial is the earliest scar's amount. No scars means base capacity.
func AscesisCapacity(scars []models.Scar, limits Limits) (uint64, error) {
	if len(scars) == 0 {
		return limits.BaseCap, nil
	}

	sorted := make([]models.Scar, len(scars))
	copy(sorted, scars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	initial := sorted[0].Amount
	if initial == 0 {
		return 0, ErrInvalidHistory
	}

	var total uint64
	for _, s := range sorted {
		if s.Amount > math.MaxUint64-total {
			return 0, ErrOverflow
		}
		total += s.Amount
	}

	multiplier := MultiplierScale + Log2Milli(total, initial)
	if multiplier < MultiplierScale {
		multiplier = MultiplierScale
	}
	if multiplier > limits.MaxScarMultiplier {
		multiplier = limits.MaxScarMultiplier
	}

	cap256 := new(uint256.Int).Mul(uint256.NewInt(limits.BaseCap), uint256.NewInt(multiplier))
	cap256.Div(cap256, uint256.NewInt(MultiplierScale))
	if !cap256.IsUint64() {
		return 0, ErrOverflow
	}
	return cap256.Uint64(), nil
}

// Log2Milli returns log2(num/den) in milli-units, floor-rounded to 16 fraction
// bits. Deterministic integer replacement for the reference float math: exact
// at every power-of-two ratio. Returns 0 when num <= den.
func Log2Milli(num, den uint64) uint64 {
	if den == 0 || num <= den {
		return 0
	}

	// x = num/den in Q64, normalized to [1, 2)
	two := new(uint256.Int).Lsh(uint256.NewInt(1), 65)

	x := new(uint256.Int).Lsh(uint256.NewInt(num), 64)
	x.Div(x, uint256.NewInt(den))

	var ipart uint64
	for x.Cmp(two) >= 0 {
		x.Rsh(x, 1)
		ipart++
	}

	// 16 binary fraction bits by repeated squaring
	var frac uint64
	for i := 0; i < 16; i++ {
		x.Mul(x, x)
		x.Rsh(x, 64)
		frac <<= 1
		if x.Cmp(two) >= 0 {
			frac |= 1
			x.Rsh(x, 1)
		}
	}

	return ipart*MultiplierScale + (frac*MultiplierScale+1<<15)>>16
}

// HeritageEfficiency returns the fee-efficiency multiplier in milli-units:
// +100 per completed 30-day staking period, capped at MaxEfficiency.
// A zero stakeStart (no active stake) is neutral.
func HeritageEfficiency(stakeStart int64, now time.Time, limits Limits) uint64 {
	if stakeStart <= 0 || now.Unix() <= stakeStart {
		return MultiplierScale
	}
	days := uint64(now.Unix()-stakeStart) / secondsPerDay
	multiplier := MultiplierScale + (days/30)*100
	if multiplier > limits.MaxEfficiency {
		multiplier = limits.MaxEfficiency
	}
	return multiplier
}

// IsEligible reports whether the staking-duration gate is met. This is a hard
// step function; callers must check it explicitly and never infer it from the
// efficiency multiplier.
func IsEligible(stakeStart int64, now time.Time, limits Limits) bool {
	if stakeStart <= 0 {
		return false
	}
	days := (now.Unix() - stakeStart) / secondsPerDay
	return days >= int64(limits.MinStakeDays)
}

// BurnCost returns the token base units a withdrawal of the requested lamports
// burns: requested * rate, discounted by the efficiency multiplier.
func BurnCost(requested uint64, exchangeRate uint64, efficiencyMilli uint64) (uint64, error) {
	if efficiencyMilli == 0 {
		efficiencyMilli = MultiplierScale
	}
	cost := new(uint256.Int).Mul(uint256.NewInt(requested), uint256.NewInt(exchangeRate))
	cost.Mul(cost, uint256.NewInt(MultiplierScale))
	cost.Div(cost, uint256.NewInt(efficiencyMilli))
	if !cost.IsUint64() {
		return 0, ErrOverflow
	}
	return cost.Uint64(), nil
}
