package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type MessageRepository interface {
	Insert(ctx context.Context, m *models.Message) error
	// Recent returns the last limit messages in chronological order.
	Recent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	LastByRole(ctx context.Context, conversationID string, role models.MessageRole) (*models.Message, error)
	// CountByRole ignores read receipts.
	CountByRole(ctx context.Context, conversationID string, role models.MessageRole) (int64, error)
}

type messageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) Insert(ctx context.Context, m *models.Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *messageRepo) Recent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *messageRepo) LastByRole(ctx context.Context, conversationID string, role models.MessageRole) (*models.Message, error) {
	var row models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND role = ?", conversationID, role).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *messageRepo) CountByRole(ctx context.Context, conversationID string, role models.MessageRole) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND role = ? AND type <> ?", conversationID, role, models.MessageRead).
		Count(&n).Error
	return n, err
}
