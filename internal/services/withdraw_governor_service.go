// Package services provides the stateful protocol services: the withdrawal
// governor, the bridge relay and the market service.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"grit-backend/internal/clients"
	"grit-backend/internal/config"
	"grit-backend/internal/events"
	"grit-backend/internal/metrics"
	"grit-backend/internal/models"
	"grit-backend/internal/repository"
	"grit-backend/internal/treasury"
)

// RejectionCode identifies why a withdrawal request was refused.
type RejectionCode string

const (
	RejectCapExceeded          RejectionCode = "CAP_EXCEEDED"
	RejectRateLimited          RejectionCode = "RATE_LIMITED"
	RejectInsufficientCapacity RejectionCode = "INSUFFICIENT_CAPACITY"
	RejectNotEligible          RejectionCode = "NOT_ELIGIBLE"
	RejectHardCap              RejectionCode = "HARD_CAP_EXCEEDED"
	RejectReserveFloor         RejectionCode = "RESERVE_FLOOR"
)

var ErrInvalidRequest = errors.New("governor: invalid withdrawal request")

// Rejection is a user-facing refusal. It always carries the concrete numeric
// threshold that was not met so the caller can decide whether to wait.
type Rejection struct {
	Code      RejectionCode `json:"code"`
	Message   string        `json:"message"`
	Limit     uint64        `json:"limit"`
	Requested uint64        `json:"requested"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s (limit %d, requested %d)", r.Code, r.Message, r.Limit, r.Requested)
}

// Authorization is the outcome of an accepted withdrawal request. The actual
// value transfer is delegated to the ledger submission collaborator; the
// governor's responsibility ends at "authorized, please submit".
type Authorization struct {
	EntryID    string `json:"entry_id"`
	Actor      string `json:"actor"`
	Amount     uint64 `json:"amount"`
	BurnCost   uint64 `json:"burn_cost"`
	Capacity   uint64 `json:"capacity"`
	Efficiency uint64 `json:"efficiency"` // milli-units
	IssuedAt   int64  `json:"issued_at"`
}

// CapacityView is the read-only capacity report for one actor.
type CapacityView struct {
	Actor      string `json:"actor"`
	Capacity   uint64 `json:"capacity"`
	Efficiency uint64 `json:"efficiency"` // milli-units
	Eligible   bool   `json:"eligible"`
	ScarCount  int    `json:"scar_count"`
	StakeDays  int64  `json:"stake_days"`
}

const dayWindow = 24 * time.Hour

// WithdrawGovernorService authorizes redemption requests. Capacity and
// eligibility are recomputed from history on every request; the global day
// counter and per-actor cooldown state are durable and survive restarts.
type WithdrawGovernorService struct {
	cfg            config.TreasuryConfig
	scarRepo       repository.ScarRepository
	stakeRepo      repository.StakeRepository
	withdrawalRepo repository.WithdrawalRepository
	source         clients.SourceLedgerClient // optional: reserve floor check
	treasuryPubkey string
	publisher      *events.Publisher
	now            func() time.Time

	globalMu   sync.Mutex // serializes day counter read-check-increment
	actorMuMu  sync.Mutex
	actorLocks map[string]*sync.Mutex
}

// NewWithdrawGovernorService creates a new WithdrawGovernorService
func NewWithdrawGovernorService(
	cfg config.TreasuryConfig,
	scarRepo repository.ScarRepository,
	stakeRepo repository.StakeRepository,
	withdrawalRepo repository.WithdrawalRepository,
) *WithdrawGovernorService {
	return &WithdrawGovernorService{
		cfg:            cfg,
		scarRepo:       scarRepo,
		stakeRepo:      stakeRepo,
		withdrawalRepo: withdrawalRepo,
		now:            time.Now,
		actorLocks:     make(map[string]*sync.Mutex),
	}
}

// SetSourceClient enables the treasury reserve floor check.
func (s *WithdrawGovernorService) SetSourceClient(client clients.SourceLedgerClient, treasuryPubkey string) {
	s.source = client
	s.treasuryPubkey = treasuryPubkey
}

// SetPublisher sets the NATS publisher for settlement events.
func (s *WithdrawGovernorService) SetPublisher(publisher *events.Publisher) {
	s.publisher = publisher
}

// SetClock overrides the time source. Used by tests.
func (s *WithdrawGovernorService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *WithdrawGovernorService) actorLock(actor string) *sync.Mutex {
	s.actorMuMu.Lock()
	defer s.actorMuMu.Unlock()
	lock, ok := s.actorLocks[actor]
	if !ok {
		lock = &sync.Mutex{}
		s.actorLocks[actor] = lock
	}
	return lock
}

// RequestWithdrawal runs the full authorization pipeline for one request.
// All steps for one actor execute as a single critical section; the global
// counter increment is atomic across actors. A caller that goes away does not
// roll anything back: authorization implies commitment to attempt settlement.
func (s *WithdrawGovernorService) RequestWithdrawal(ctx context.Context, actor string, amount uint64) (*Authorization, error) {
	if actor == "" || amount == 0 {
		return nil, ErrInvalidRequest
	}

	lock := s.actorLock(actor)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	// 1+2. lazy day reset and global cap pre-check
	if rej, err := s.checkGlobalCap(ctx, amount, now); err != nil {
		return nil, err
	} else if rej != nil {
		return nil, s.reject(rej)
	}

	// per-request wallet cap
	if s.cfg.HardCapPerRequest > 0 && amount > s.cfg.HardCapPerRequest {
		return nil, s.reject(&Rejection{
			Code:      RejectHardCap,
			Message:   "request exceeds the per-request wallet cap",
			Limit:     s.cfg.HardCapPerRequest,
			Requested: amount,
		})
	}

	// 3. per-actor cooldown
	state, err := s.withdrawalRepo.GetActorState(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load actor state: %w", err)
	}
	if state.LastWithdrawalAt > 0 {
		elapsed := now.Unix() - state.LastWithdrawalAt
		if elapsed < int64(s.cfg.RateLimitWindow) {
			return nil, s.reject(&Rejection{
				Code:      RejectRateLimited,
				Message:   fmt.Sprintf("cooldown active, retry in %ds", int64(s.cfg.RateLimitWindow)-elapsed),
				Limit:     uint64(s.cfg.RateLimitWindow),
				Requested: uint64(elapsed),
			})
		}
	}

	// 4+5. recompute capacity and eligibility from current history; cached
	// values are never trusted because history may have changed.
	scars, err := s.scarRepo.FindByActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load scar history: %w", err)
	}
	stake, err := s.stakeRepo.FindActiveByActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load stake position: %w", err)
	}

	limits := s.limits()
	capacity, err := treasury.AscesisCapacity(scars, limits)
	if err != nil {
		return nil, fmt.Errorf("capacity computation failed: %w", err)
	}

	var stakeStart int64
	if stake != nil {
		stakeStart = stake.StartTime
	}
	if !treasury.IsEligible(stakeStart, now, limits) {
		return nil, s.reject(&Rejection{
			Code:      RejectNotEligible,
			Message:   fmt.Sprintf("stake must be held for %d days", s.cfg.MinStakeDays),
			Limit:     uint64(s.cfg.MinStakeDays),
			Requested: uint64(stakeDays(stakeStart, now)),
		})
	}
	if amount > capacity {
		return nil, s.reject(&Rejection{
			Code:      RejectInsufficientCapacity,
			Message:   "requested amount exceeds current capacity",
			Limit:     capacity,
			Requested: amount,
		})
	}

	// reserve floor: the treasury never drains below its configured minimum
	if s.source != nil && s.cfg.ReserveFloorLamports > 0 {
		balance, err := s.source.GetBalance(ctx, s.treasuryPubkey)
		if err != nil {
			return nil, fmt.Errorf("failed to query treasury balance: %w", err)
		}
		if balance < amount || balance-amount < s.cfg.ReserveFloorLamports {
			return nil, s.reject(&Rejection{
				Code:      RejectReserveFloor,
				Message:   "treasury reserve floor would be breached",
				Limit:     s.cfg.ReserveFloorLamports,
				Requested: amount,
			})
		}
	}

	efficiency := treasury.HeritageEfficiency(stakeStart, now, limits)
	burnCost, err := treasury.BurnCost(amount, s.cfg.BaseExchangeRate, efficiency)
	if err != nil {
		return nil, fmt.Errorf("burn cost computation failed: %w", err)
	}

	// 6. commit: re-verify and increment the day counter atomically, then
	// record. Persistence runs detached from the caller's cancellation.
	commitCtx := context.WithoutCancel(ctx)
	if rej, err := s.commitGlobalCap(commitCtx, amount, now); err != nil {
		return nil, err
	} else if rej != nil {
		return nil, s.reject(rej)
	}

	state.LastWithdrawalAt = now.Unix()
	if err := s.withdrawalRepo.SaveActorState(commitCtx, state); err != nil {
		s.releaseGlobalCap(commitCtx, amount)
		return nil, fmt.Errorf("failed to save actor state: %w", err)
	}

	entry := &models.WithdrawalLedgerEntry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Amount:    amount,
		BurnCost:  burnCost,
		Timestamp: now.Unix(),
	}
	if err := s.withdrawalRepo.AppendEntry(commitCtx, entry); err != nil {
		s.releaseGlobalCap(commitCtx, amount)
		logrus.WithError(err).WithField("actor", actor).Error("ledger append failed, cooldown stays consumed")
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	metrics.WithdrawalsAuthorized.Inc()
	s.publisher.Publish(events.SubjectWithdrawAuthorized, events.WithdrawAuthorizedEvent{
		EntryID:  entry.ID,
		Actor:    actor,
		Amount:   amount,
		BurnCost: burnCost,
		IssuedAt: entry.Timestamp,
	})

	logrus.WithFields(logrus.Fields{
		"entry_id":  entry.ID,
		"actor":     actor,
		"amount":    amount,
		"burn_cost": burnCost,
	}).Info("withdrawal authorized")

	return &Authorization{
		EntryID:    entry.ID,
		Actor:      actor,
		Amount:     amount,
		BurnCost:   burnCost,
		Capacity:   capacity,
		Efficiency: efficiency,
		IssuedAt:   entry.Timestamp,
	}, nil
}

// Capacity returns the read-only capacity report for an actor.
func (s *WithdrawGovernorService) Capacity(ctx context.Context, actor string) (*CapacityView, error) {
	if actor == "" {
		return nil, ErrInvalidRequest
	}

	scars, err := s.scarRepo.FindByActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load scar history: %w", err)
	}
	stake, err := s.stakeRepo.FindActiveByActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load stake position: %w", err)
	}

	now := s.now()
	limits := s.limits()
	capacity, err := treasury.AscesisCapacity(scars, limits)
	if err != nil {
		return nil, fmt.Errorf("capacity computation failed: %w", err)
	}

	var stakeStart int64
	if stake != nil {
		stakeStart = stake.StartTime
	}
	return &CapacityView{
		Actor:      actor,
		Capacity:   capacity,
		Efficiency: treasury.HeritageEfficiency(stakeStart, now, limits),
		Eligible:   treasury.IsEligible(stakeStart, now, limits),
		ScarCount:  len(scars),
		StakeDays:  stakeDays(stakeStart, now),
	}, nil
}

// History returns the actor's most recent ledger entries, newest first.
func (s *WithdrawGovernorService) History(ctx context.Context, actor string, limit int) ([]models.WithdrawalLedgerEntry, error) {
	if actor == "" {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.withdrawalRepo.FindEntriesByActor(ctx, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawal ledger: %w", err)
	}
	return entries, nil
}

// checkGlobalCap performs the lazy day reset and rejects requests that cannot
// fit the day window. It does not increment; commitGlobalCap does.
func (s *WithdrawGovernorService) checkGlobalCap(ctx context.Context, amount uint64, now time.Time) (*Rejection, error) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	return s.globalCapLocked(ctx, amount, now, false)
}

// commitGlobalCap re-verifies the cap and increments the counter in one
// critical section.
func (s *WithdrawGovernorService) commitGlobalCap(ctx context.Context, amount uint64, now time.Time) (*Rejection, error) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	return s.globalCapLocked(ctx, amount, now, true)
}

func (s *WithdrawGovernorService) globalCapLocked(ctx context.Context, amount uint64, now time.Time, commit bool) (*Rejection, error) {
	counter, err := s.withdrawalRepo.GetDayCounter(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load day counter: %w", err)
	}

	// lazy reset, checked on every request rather than by a scheduled job
	if counter.DayStart == 0 || now.Sub(time.Unix(counter.DayStart, 0)) >= dayWindow {
		counter.DayStart = now.Unix()
		counter.Total = 0
	}

	if counter.Total+amount > s.cfg.MaxDailyWithdrawal || counter.Total+amount < counter.Total {
		return &Rejection{
			Code:      RejectCapExceeded,
			Message:   "global daily withdrawal cap reached, try again tomorrow",
			Limit:     s.cfg.MaxDailyWithdrawal,
			Requested: amount,
		}, nil
	}

	if commit {
		counter.Total += amount
		if err := s.withdrawalRepo.SaveDayCounter(ctx, counter); err != nil {
			return nil, fmt.Errorf("failed to save day counter: %w", err)
		}
		metrics.WithdrawalDailyTotal.Set(float64(counter.Total))
	}
	return nil, nil
}

// releaseGlobalCap returns headroom reserved by commitGlobalCap when the
// authorization could not be recorded, so a failed persist does not consume
// the day window.
func (s *WithdrawGovernorService) releaseGlobalCap(ctx context.Context, amount uint64) {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()

	counter, err := s.withdrawalRepo.GetDayCounter(ctx)
	if err != nil {
		logrus.WithError(err).Error("failed to release day-counter reservation")
		return
	}
	if counter.Total >= amount {
		counter.Total -= amount
	} else {
		counter.Total = 0
	}
	if err := s.withdrawalRepo.SaveDayCounter(ctx, counter); err != nil {
		logrus.WithError(err).Error("failed to release day-counter reservation")
		return
	}
	metrics.WithdrawalDailyTotal.Set(float64(counter.Total))
}

func (s *WithdrawGovernorService) limits() treasury.Limits {
	return treasury.Limits{
		BaseCap:           s.cfg.BaseCapLamports,
		MaxScarMultiplier: s.cfg.MaxScarMultiplier,
		MaxEfficiency:     s.cfg.MaxEfficiency,
		MinStakeDays:      s.cfg.MinStakeDays,
	}
}

func (s *WithdrawGovernorService) reject(rej *Rejection) error {
	metrics.WithdrawalsRejected.WithLabelValues(string(rej.Code)).Inc()
	logrus.WithFields(logrus.Fields{
		"code":      rej.Code,
		"limit":     rej.Limit,
		"requested": rej.Requested,
	}).Info("withdrawal rejected")
	return rej
}

func stakeDays(stakeStart int64, now time.Time) int64 {
	if stakeStart <= 0 {
		return 0
	}
	return (now.Unix() - stakeStart) / (24 * 60 * 60)
}
