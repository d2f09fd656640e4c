package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"grit-backend/internal/models"
)

// CurveRepository defines data access for the durable curve state and the
// trade history feeding the volatility monitor.
type CurveRepository interface {
	Load(ctx context.Context) (*models.CurveStateRecord, error)
	Save(ctx context.Context, state *models.CurveStateRecord) error

	AppendTrade(ctx context.Context, trade *models.TradeRecord) error
	FindTradesSince(ctx context.Context, since int64) ([]models.TradeRecord, error)
}

type curveRepository struct {
	db *gorm.DB
}

// NewCurveRepository creates a new CurveRepository instance
func NewCurveRepository(db *gorm.DB) CurveRepository {
	return &curveRepository{db: db}
}

func (r *curveRepository) Load(ctx context.Context) (*models.CurveStateRecord, error) {
	var state models.CurveStateRecord
	err := r.db.WithContext(ctx).Where("id = ?", 1).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (r *curveRepository) Save(ctx context.Context, state *models.CurveStateRecord) error {
	state.ID = 1
	state.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(state).Error
}

func (r *curveRepository) AppendTrade(ctx context.Context, trade *models.TradeRecord) error {
	return r.db.WithContext(ctx).Create(trade).Error
}

func (r *curveRepository) FindTradesSince(ctx context.Context, since int64) ([]models.TradeRecord, error) {
	var trades []models.TradeRecord
	err := r.db.WithContext(ctx).
		Where("timestamp > ?", since).
		Order("timestamp ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}
