package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"grit-backend/internal/access"
	"grit-backend/internal/config"
	"grit-backend/internal/events"
	"grit-backend/internal/models"
	"grit-backend/internal/repository"
)

// AttributeService maintains the per-actor protocol state the domain gates
// read from: scars, stake positions and resonance. The access Attributes view
// is always derived fresh from history.
type AttributeService struct {
	cfg           config.AccessConfig
	scarRepo      repository.ScarRepository
	stakeRepo     repository.StakeRepository
	attributeRepo repository.AttributeRepository
	publisher     *events.Publisher
	now           func() time.Time
}

// NewAttributeService creates a new AttributeService
func NewAttributeService(
	cfg config.AccessConfig,
	scarRepo repository.ScarRepository,
	stakeRepo repository.StakeRepository,
	attributeRepo repository.AttributeRepository,
) *AttributeService {
	return &AttributeService{
		cfg:           cfg,
		scarRepo:      scarRepo,
		stakeRepo:     stakeRepo,
		attributeRepo: attributeRepo,
		now:           time.Now,
	}
}

// SetPublisher sets the NATS publisher for scar events.
func (s *AttributeService) SetPublisher(publisher *events.Publisher) {
	s.publisher = publisher
}

// SetClock overrides the time source. Used by tests.
func (s *AttributeService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordScar appends a burn record for the actor.
func (s *AttributeService) RecordScar(ctx context.Context, actor string, amount uint64) (*models.Scar, error) {
	if actor == "" || amount == 0 {
		return nil, ErrInvalidRequest
	}

	scar := &models.Scar{
		Actor:     actor,
		Amount:    amount,
		Timestamp: s.now().Unix(),
	}
	if err := s.scarRepo.Create(ctx, scar); err != nil {
		return nil, fmt.Errorf("failed to record scar: %w", err)
	}

	s.publisher.Publish(events.SubjectScarRecorded, events.ScarRecordedEvent{
		Actor:     actor,
		Amount:    amount,
		Timestamp: scar.Timestamp,
	})

	logrus.WithFields(logrus.Fields{
		"actor":  actor,
		"amount": amount,
	}).Info("scar recorded")
	return scar, nil
}

// OpenStake locks a principal for the actor. One active position per actor;
// the repository rejects a second open atomically.
func (s *AttributeService) OpenStake(ctx context.Context, actor string, principal uint64) (*models.StakePosition, error) {
	if actor == "" || principal == 0 {
		return nil, ErrInvalidRequest
	}

	position := &models.StakePosition{
		Actor:     actor,
		Principal: principal,
		StartTime: s.now().Unix(),
		Status:    models.StakeStatusActive,
	}
	if err := s.stakeRepo.Open(ctx, position); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"actor":     actor,
		"principal": principal,
	}).Info("stake opened")
	return position, nil
}

// WithdrawStake closes the actor's active position. Closing resets the
// heritage clock; a later stake starts from zero.
func (s *AttributeService) WithdrawStake(ctx context.Context, actor string) (*models.StakePosition, error) {
	if actor == "" {
		return nil, ErrInvalidRequest
	}

	position, err := s.stakeRepo.FindActiveByActor(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to load stake position: %w", err)
	}
	if position == nil {
		return nil, fmt.Errorf("%w: no active stake for actor", ErrInvalidRequest)
	}
	if err := s.stakeRepo.MarkWithdrawn(ctx, position.ID); err != nil {
		return nil, fmt.Errorf("failed to close stake position: %w", err)
	}

	position.Status = models.StakeStatusWithdrawn
	logrus.WithField("actor", actor).Info("stake withdrawn")
	return position, nil
}

// AddResonance accumulates listening resonance for the actor.
func (s *AttributeService) AddResonance(ctx context.Context, actor string, delta uint64) error {
	if actor == "" || delta == 0 {
		return ErrInvalidRequest
	}
	return s.attributeRepo.AddResonance(ctx, actor, delta)
}

// Attributes derives the gate read model for an actor from current history.
func (s *AttributeService) Attributes(ctx context.Context, actor string) (access.Attributes, error) {
	if actor == "" {
		return access.Attributes{}, ErrInvalidRequest
	}

	attr, err := s.attributeRepo.Get(ctx, actor)
	if err != nil {
		return access.Attributes{}, fmt.Errorf("failed to load attributes: %w", err)
	}
	scarCount, err := s.scarRepo.CountByActor(ctx, actor)
	if err != nil {
		return access.Attributes{}, fmt.Errorf("failed to count scars: %w", err)
	}
	stake, err := s.stakeRepo.FindActiveByActor(ctx, actor)
	if err != nil {
		return access.Attributes{}, fmt.Errorf("failed to load stake position: %w", err)
	}

	attrs := access.Attributes{
		Resonance: attr.Resonance,
		ScarCount: int(scarCount),
	}
	if stake != nil {
		attrs.StakeStartTime = stake.StartTime
		attrs.StakedAmount = stake.Principal
	}
	return attrs, nil
}

// CheckAccess evaluates one domain gate for an actor.
func (s *AttributeService) CheckAccess(ctx context.Context, actor string, domain access.Domain) (access.Result, error) {
	attrs, err := s.Attributes(ctx, actor)
	if err != nil {
		return access.Result{}, err
	}
	return access.Check(domain, attrs, s.cfg, s.now()), nil
}
