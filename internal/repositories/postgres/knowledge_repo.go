package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

// KnowledgeRepository reads the admin-maintained FAQ, campaign and
// settings tables.
type KnowledgeRepository interface {
	VerifiedFaqs(ctx context.Context, limit int) ([]models.Faq, error)
	ActiveCampaigns(ctx context.Context, now time.Time, limit int) ([]models.Campaign, error)
	ActiveSettings(ctx context.Context) (*models.BotSettings, error)
}

type knowledgeRepo struct {
	db *gorm.DB
}

func NewKnowledgeRepo(db *gorm.DB) KnowledgeRepository {
	return &knowledgeRepo{db: db}
}

func (r *knowledgeRepo) VerifiedFaqs(ctx context.Context, limit int) ([]models.Faq, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.Faq
	err := r.db.WithContext(ctx).
		Where("verified = ?", true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *knowledgeRepo) ActiveCampaigns(ctx context.Context, now time.Time, limit int) ([]models.Campaign, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []models.Campaign
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("starts_at IS NULL OR starts_at <= ?", now.UTC()).
		Where("ends_at IS NULL OR ends_at >= ?", now.UTC()).
		Order("priority DESC, updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *knowledgeRepo) ActiveSettings(ctx context.Context) (*models.BotSettings, error) {
	var row models.BotSettings
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("updated_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}
