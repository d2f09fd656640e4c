package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"grit-backend/internal/models"
)

// BridgeRepository defines data access for the relay's durable state: the
// processed-signature set, settlement records and the dead-letter list.
type BridgeRepository interface {
	IsProcessed(ctx context.Context, signature string) (bool, error)
	MarkProcessed(ctx context.Context, record *models.ProcessedSignature) error
	LatestProcessed(ctx context.Context) (*models.ProcessedSignature, error)

	CreateDeposit(ctx context.Context, deposit *models.BridgeDeposit) error
	UpdateDepositStatus(ctx context.Context, signature string, status models.BridgeDepositStatus, destTxHash string) error
	FindDepositBySignature(ctx context.Context, signature string) (*models.BridgeDeposit, error)

	CreateDeadLetter(ctx context.Context, event *models.DeadLetterEvent) error
	CountDeadLetters(ctx context.Context) (int64, error)
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEvent, error)
}

type bridgeRepository struct {
	db *gorm.DB
}

// NewBridgeRepository creates a new BridgeRepository instance
func NewBridgeRepository(db *gorm.DB) BridgeRepository {
	return &bridgeRepository{db: db}
}

func (r *bridgeRepository) IsProcessed(ctx context.Context, signature string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedSignature{}).
		Where("signature = ?", signature).
		Count(&count).Error
	return count > 0, err
}

func (r *bridgeRepository) MarkProcessed(ctx context.Context, record *models.ProcessedSignature) error {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *bridgeRepository) LatestProcessed(ctx context.Context) (*models.ProcessedSignature, error) {
	var record models.ProcessedSignature
	err := r.db.WithContext(ctx).Order("processed_at DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *bridgeRepository) CreateDeposit(ctx context.Context, deposit *models.BridgeDeposit) error {
	return r.db.WithContext(ctx).Create(deposit).Error
}

func (r *bridgeRepository) UpdateDepositStatus(ctx context.Context, signature string, status models.BridgeDepositStatus, destTxHash string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if destTxHash != "" {
		updates["dest_tx_hash"] = destTxHash
	}
	return r.db.WithContext(ctx).Model(&models.BridgeDeposit{}).
		Where("signature = ?", signature).
		Updates(updates).Error
}

func (r *bridgeRepository) FindDepositBySignature(ctx context.Context, signature string) (*models.BridgeDeposit, error) {
	var deposit models.BridgeDeposit
	err := r.db.WithContext(ctx).Where("signature = ?", signature).First(&deposit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &deposit, nil
}

func (r *bridgeRepository) CreateDeadLetter(ctx context.Context, event *models.DeadLetterEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *bridgeRepository) CountDeadLetters(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DeadLetterEvent{}).Count(&count).Error
	return count, err
}

func (r *bridgeRepository) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEvent, error) {
	var events []models.DeadLetterEvent
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
