package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type ConversationRepo interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	FindOpenByUser(ctx context.Context, userID string) (*models.Conversation, error)
	Create(ctx context.Context, c *models.Conversation) error
	TouchUser(ctx context.Context, id string, at time.Time) error
	TouchBot(ctx context.Context, id string, at time.Time) error
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

// FindOpenByUser returns the newest open conversation of the user.
func (r *conversationRepo) FindOpenByUser(ctx context.Context, userID string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.ConversationOpen).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *conversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// TouchUser only moves last_user_message_at forward; a late redelivery
// carrying an older timestamp leaves it alone.
func (r *conversationRepo) TouchUser(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_user_message_at": latestOf("last_user_message_at", at), "updated_at": time.Now().UTC()}).Error
}

// latestOf keeps the newer of column and at. GREATEST skips NULLs, so an
// unset column takes at.
func latestOf(column string, at time.Time) clause.Expr {
	return gorm.Expr("GREATEST("+column+", ?)", at.UTC())
}

func (r *conversationRepo) TouchBot(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_bot_message_at": at.UTC(), "updated_at": time.Now().UTC()}).Error
}
