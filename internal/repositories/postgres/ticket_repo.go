package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/utils"
)

type TicketRepository interface {
	FindOpen(ctx context.Context, conversationID string) (*models.SupportTicket, error)
	Create(ctx context.Context, t *models.SupportTicket) error
	UpdateLastMessage(ctx context.Context, id, msg string) error
}

type ticketRepo struct {
	db *gorm.DB
}

func NewTicketRepo(db *gorm.DB) TicketRepository {
	return &ticketRepo{db: db}
}

// FindOpen returns the newest open or pending ticket of a conversation.
func (r *ticketRepo) FindOpen(ctx context.Context, conversationID string) (*models.SupportTicket, error) {
	var row models.SupportTicket
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND status IN ?", conversationID, []models.TicketStatus{models.TicketOpen, models.TicketPending}).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *ticketRepo) Create(ctx context.Context, t *models.SupportTicket) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *ticketRepo) UpdateLastMessage(ctx context.Context, id, msg string) error {
	return r.db.WithContext(ctx).
		Model(&models.SupportTicket{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_message": msg, "updated_at": time.Now().UTC()}).Error
}
