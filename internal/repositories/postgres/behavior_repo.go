package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type BehaviorRepository interface {
	Get(ctx context.Context, userID string) (*models.BehaviorProfile, error)
	Upsert(ctx context.Context, p *models.BehaviorProfile) error
}

type behaviorRepo struct {
	db *gorm.DB
}

func NewBehaviorRepo(db *gorm.DB) BehaviorRepository {
	return &behaviorRepo{db: db}
}

func (r *behaviorRepo) Get(ctx context.Context, userID string) (*models.BehaviorProfile, error) {
	var row models.BehaviorProfile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *behaviorRepo) Upsert(ctx context.Context, p *models.BehaviorProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_pattern", "confidence", "last_seen_at", "pattern_history", "snapshot", "updated_at"}),
		}).
		Create(p).Error
}
