package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"grit-backend/internal/models"
)

// AttributeRepository defines data access for accumulated participant
// attributes (resonance).
type AttributeRepository interface {
	Get(ctx context.Context, actor string) (*models.ParticipantAttribute, error)
	AddResonance(ctx context.Context, actor string, delta uint64) error
}

type attributeRepository struct {
	db *gorm.DB
}

// NewAttributeRepository creates a new AttributeRepository instance
func NewAttributeRepository(db *gorm.DB) AttributeRepository {
	return &attributeRepository{db: db}
}

func (r *attributeRepository) Get(ctx context.Context, actor string) (*models.ParticipantAttribute, error) {
	var attr models.ParticipantAttribute
	err := r.db.WithContext(ctx).Where("actor = ?", actor).First(&attr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.ParticipantAttribute{Actor: actor}, nil
		}
		return nil, err
	}
	return &attr, nil
}

func (r *attributeRepository) AddResonance(ctx context.Context, actor string, delta uint64) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "actor"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"resonance":  gorm.Expr("participant_attributes.resonance + ?", delta),
			"updated_at": time.Now(),
		}),
	}).Create(&models.ParticipantAttribute{
		Actor:     actor,
		Resonance: delta,
		UpdatedAt: time.Now(),
	}).Error
}
