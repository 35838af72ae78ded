package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/yoockh/dmcommerce/internal/models"
)

type UsageRepository interface {
	Insert(ctx context.Context, u *models.Usage) error
}

type usageRepo struct {
	db *gorm.DB
}

func NewUsageRepo(db *gorm.DB) UsageRepository {
	return &usageRepo{db: db}
}

func (r *usageRepo) Insert(ctx context.Context, u *models.Usage) error {
	return r.db.WithContext(ctx).Create(u).Error
}
