package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"grit-backend/internal/models"
)

// WithdrawalRepository defines data access for the withdrawal ledger and the
// governor's durable counters. Ledger entries are immutable and never deleted.
type WithdrawalRepository interface {
	AppendEntry(ctx context.Context, entry *models.WithdrawalLedgerEntry) error
	FindEntriesByActor(ctx context.Context, actor string, limit int) ([]models.WithdrawalLedgerEntry, error)

	GetDayCounter(ctx context.Context) (*models.WithdrawDayCounter, error)
	SaveDayCounter(ctx context.Context, counter *models.WithdrawDayCounter) error

	GetActorState(ctx context.Context, actor string) (*models.ActorWithdrawState, error)
	SaveActorState(ctx context.Context, state *models.ActorWithdrawState) error
}

type withdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository creates a new WithdrawalRepository instance
func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) AppendEntry(ctx context.Context, entry *models.WithdrawalLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *withdrawalRepository) FindEntriesByActor(ctx context.Context, actor string, limit int) ([]models.WithdrawalLedgerEntry, error) {
	var entries []models.WithdrawalLedgerEntry
	err := r.db.WithContext(ctx).
		Where("actor = ?", actor).
		Order("timestamp DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *withdrawalRepository) GetDayCounter(ctx context.Context) (*models.WithdrawDayCounter, error) {
	var counter models.WithdrawDayCounter
	err := r.db.WithContext(ctx).Where("id = ?", 1).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.WithdrawDayCounter{ID: 1}, nil
		}
		return nil, err
	}
	return &counter, nil
}

func (r *withdrawalRepository) SaveDayCounter(ctx context.Context, counter *models.WithdrawDayCounter) error {
	counter.ID = 1
	counter.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(counter).Error
}

func (r *withdrawalRepository) GetActorState(ctx context.Context, actor string) (*models.ActorWithdrawState, error) {
	var state models.ActorWithdrawState
	err := r.db.WithContext(ctx).Where("actor = ?", actor).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.ActorWithdrawState{Actor: actor}, nil
		}
		return nil, err
	}
	return &state, nil
}

func (r *withdrawalRepository) SaveActorState(ctx context.Context, state *models.ActorWithdrawState) error {
	state.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor"}},
		UpdateAll: true,
	}).Create(state).Error
}
