package repository

import (
	"context"

	"gorm.io/gorm"

	"grit-backend/internal/models"
)

// ScarRepository defines data access for burn records. Scars are append-only.
type ScarRepository interface {
	Create(ctx context.Context, scar *models.Scar) error
	FindByActor(ctx context.Context, actor string) ([]models.Scar, error)
	CountByActor(ctx context.Context, actor string) (int64, error)
}

type scarRepository struct {
	db *gorm.DB
}

// NewScarRepository creates a new ScarRepository instance
func NewScarRepository(db *gorm.DB) ScarRepository {
	return &scarRepository{db: db}
}

func (r *scarRepository) Create(ctx context.Context, scar *models.Scar) error {
	return r.db.WithContext(ctx).Create(scar).Error
}

func (r *scarRepository) FindByActor(ctx context.Context, actor string) ([]models.Scar, error) {
	var scars []models.Scar
	err := r.db.WithContext(ctx).
		Where("actor = ?", actor).
		Order("timestamp ASC").
		Find(&scars).Error
	if err != nil {
		return nil, err
	}
	return scars, nil
}

func (r *scarRepository) CountByActor(ctx context.Context, actor string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Scar{}).
		Where("actor = ?", actor).
		Count(&count).Error
	return count, err
}
