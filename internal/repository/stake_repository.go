package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"grit-backend/internal/models"
)

var ErrActiveStakeExists = errors.New("repository: actor already has an active stake")

// StakeRepository defines data access for stake positions. At most one
// active position per actor; StartTime is immutable once written.
type StakeRepository interface {
	Open(ctx context.Context, position *models.StakePosition) error
	FindActiveByActor(ctx context.Context, actor string) (*models.StakePosition, error)
	MarkWithdrawn(ctx context.Context, id uint64) error
}

type stakeRepository struct {
	db *gorm.DB
}

// NewStakeRepository creates a new StakeRepository instance
func NewStakeRepository(db *gorm.DB) StakeRepository {
	return &stakeRepository{db: db}
}

func (r *stakeRepository) Open(ctx context.Context, position *models.StakePosition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.StakePosition{}).
			Where("actor = ? AND status = ?", position.Actor, models.StakeStatusActive).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrActiveStakeExists
		}
		return tx.Create(position).Error
	})
}

func (r *stakeRepository) FindActiveByActor(ctx context.Context, actor string) (*models.StakePosition, error) {
	var position models.StakePosition
	err := r.db.WithContext(ctx).
		Where("actor = ? AND status = ?", actor, models.StakeStatusActive).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func (r *stakeRepository) MarkWithdrawn(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.StakePosition{}).
		Where("id = ? AND status = ?", id, models.StakeStatusActive).
		Updates(map[string]interface{}{
			"status":       models.StakeStatusWithdrawn,
			"withdrawn_at": &now,
		}).Error
}
