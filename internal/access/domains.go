// Package access derives which protocol domains are unlocked for a
// participant. Gates are independent booleans evaluated fresh from current
// attributes on every check; nothing is cached as "unlocked forever".
package access

import (
	"fmt"
	"time"

	"grit-backend/internal/config"
)

// Domain is a gated feature area.
type Domain string

const (
	DomainSovereign Domain = "SOVEREIGN"
	DomainAscesis   Domain = "ASCESIS"
	DomainHeritage  Domain = "HERITAGE"
	DomainMarket    Domain = "MARKET"
)

// Attributes is the derived read model the gates are evaluated against.
// It is always recomputed from scar/stake history, never stored.
type Attributes struct {
	Resonance      uint64
	ScarCount      int
	StakeStartTime int64 // unix, 0 when no active stake
	StakedAmount   uint64
}

// Result is the outcome of one gate evaluation.
type Result struct {
	Unlocked    bool   `json:"unlocked"`
	Reason      string `json:"reason,omitempty"`
	Requirement string `json:"requirement,omitempty"`
}

// ParseDomain maps a request string to a Domain.
func ParseDomain(s string) (Domain, bool) {
	switch Domain(s) {
	case DomainSovereign, DomainAscesis, DomainHeritage, DomainMarket:
		return Domain(s), true
	}
	return "", false
}

// Check evaluates one domain gate against the given attributes.
func Check(domain Domain, attrs Attributes, cfg config.AccessConfig, now time.Time) Result {
	// Sovereign is always open; identity is handled elsewhere.
	if domain == DomainSovereign {
		return Result{Unlocked: true}
	}

	if cfg.Bypass {
		return Result{Unlocked: true}
	}

	switch domain {
	case DomainAscesis:
		if attrs.Resonance >= cfg.ResonanceThreshold {
			return Result{Unlocked: true}
		}
		return Result{
			Unlocked:    false,
			Reason:      "resonance below threshold",
			Requirement: fmt.Sprintf("%d / %d resonance", attrs.Resonance, cfg.ResonanceThreshold),
		}

	case DomainHeritage:
		if attrs.ScarCount > 0 {
			return Result{Unlocked: true}
		}
		return Result{
			Unlocked:    false,
			Reason:      "no burn record",
			Requirement: "1+ scars",
		}

	case DomainMarket:
		required := time.Duration(cfg.MarketStakeDays) * 24 * time.Hour
		if attrs.StakedAmount > 0 && attrs.StakeStartTime > 0 &&
			now.Sub(time.Unix(attrs.StakeStartTime, 0)) >= required {
			return Result{Unlocked: true}
		}
		return Result{
			Unlocked:    false,
			Reason:      "stake not held long enough",
			Requirement: fmt.Sprintf("active stake held %d+ days", cfg.MarketStakeDays),
		}
	}

	return Result{Unlocked: false, Reason: "unknown domain"}
}
