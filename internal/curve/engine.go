// Package curve implements the linear bonding curve pricing math.
// price(supply) = basePrice + slope*supply, all values unsigned fixed point.
package curve

import (
	"errors"
	"math"
	"sync"

	"github.com/holiman/uint256"
)

// PriceScale is the fixed-point scale of Slope and BasePrice:
// micro-lamports per token base unit.
const PriceScale = 1_000_000

var (
	ErrOverflow           = errors.New("curve: arithmetic overflow")
	ErrInsufficientSupply = errors.New("curve: amount exceeds current supply")
)

// Params are the immutable curve coefficients, PriceScale fixed point.
type Params struct {
	Slope     uint64
	BasePrice uint64
}

// State is a snapshot of the curve.
type State struct {
	TotalSupply uint64
	Params      Params
}

// SpotPrice returns the scaled price at the given supply point.
func (p Params) SpotPrice(supply uint64) (uint64, error) {
	v := new(uint256.Int).Mul(uint256.NewInt(p.Slope), uint256.NewInt(supply))
	v.Add(v, uint256.NewInt(p.BasePrice))
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// QuoteBuy returns the cost in lamports of minting amount tokens starting at
// the given supply: the definite integral of price over [supply, supply+amount].
func (p Params) QuoteBuy(supply, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	end := supply + amount
	if end < supply {
		return 0, ErrOverflow
	}
	return p.integral(supply, end)
}

// QuoteSell returns the proceeds in lamports of burning amount tokens starting
// at the given supply: the integral over [supply-amount, supply]. Selling below
// zero supply is rejected, never clamped.
func (p Params) QuoteSell(supply, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	if amount > supply {
		return 0, ErrInsufficientSupply
	}
	return p.integral(supply-amount, supply)
}

// Reserve returns the lamports backing the curve: the integral over [0, supply].
func (p Params) Reserve(supply uint64) (uint64, error) {
	return p.integral(0, supply)
}

// integral computes slope*(to^2-from^2)/2 + basePrice*(to-from), rescaled by
// PriceScale with floor division. Intermediates are 256-bit; the squared-supply
// term alone needs 128 bits for realistic supplies.
func (p Params) integral(from, to uint64) (uint64, error) {
	fromV := uint256.NewInt(from)
	toV := uint256.NewInt(to)

	sq := new(uint256.Int).Mul(toV, toV)
	sq.Sub(sq, new(uint256.Int).Mul(fromV, fromV))

	cost := new(uint256.Int).Mul(uint256.NewInt(p.Slope), sq)
	cost.Rsh(cost, 1) // halve after the multiply, before any precision is lost

	base := new(uint256.Int).Mul(uint256.NewInt(p.BasePrice), new(uint256.Int).Sub(toV, fromV))
	cost.Add(cost, base)

	cost.Div(cost, uint256.NewInt(PriceScale))
	if !cost.IsUint64() {
		return 0, ErrOverflow
	}
	return cost.Uint64(), nil
}

// Engine wraps curve state behind a mutex. Supply is mutated only through
// ApplyBuy/ApplySell, after the corresponding quote has been accepted and the
// external payment or burn confirmed. The engine itself never touches a ledger.
type Engine struct {
	mu    sync.Mutex
	state State
}

// NewEngine creates an engine from a state snapshot.
func NewEngine(state State) *Engine {
	return &Engine{state: state}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SpotPrice returns the scaled price at the current supply.
func (e *Engine) SpotPrice() (uint64, error) {
	s := e.Snapshot()
	return s.Params.SpotPrice(s.TotalSupply)
}

// QuoteBuy quotes a buy at the current supply without mutating anything.
func (e *Engine) QuoteBuy(amount uint64) (uint64, error) {
	s := e.Snapshot()
	return s.Params.QuoteBuy(s.TotalSupply, amount)
}

// QuoteSell quotes a sell at the current supply without mutating anything.
func (e *Engine) QuoteSell(amount uint64) (uint64, error) {
	s := e.Snapshot()
	return s.Params.QuoteSell(s.TotalSupply, amount)
}

// ApplyBuy commits a settled buy: re-prices at the supply actually current and
// advances it. Returns the cost and the new state.
func (e *Engine) ApplyBuy(amount uint64) (uint64, State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cost, err := e.state.Params.QuoteBuy(e.state.TotalSupply, amount)
	if err != nil {
		return 0, e.state, err
	}
	if e.state.TotalSupply > math.MaxUint64-amount {
		return 0, e.state, ErrOverflow
	}
	e.state.TotalSupply += amount
	return cost, e.state, nil
}

// ApplySell commits a settled sell and returns the proceeds and the new state.
func (e *Engine) ApplySell(amount uint64) (uint64, State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proceeds, err := e.state.Params.QuoteSell(e.state.TotalSupply, amount)
	if err != nil {
		return 0, e.state, err
	}
	e.state.TotalSupply -= amount
	return proceeds, e.state, nil
}
