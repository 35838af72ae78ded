package services

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/dmcommerce/internal/models"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ConversationService interface {
	// Open returns the user's open conversation, creating one when none
	// exists.
	Open(ctx context.Context, userID string) (*models.Conversation, error)
	// RecordInbound appends the inbound message. User messages other than
	// read receipts also advance last_user_message_at.
	RecordInbound(ctx context.Context, conv *models.Conversation, ev *InboundEvent) (*models.Message, error)
	// IsFirstMessage reports whether the conversation holds at most one
	// user message.
	IsFirstMessage(ctx context.Context, conversationID string) (bool, error)
	LastAssistantText(ctx context.Context, conversationID string) (string, error)
}

type conversationService struct {
	convos   pgrepo.ConversationRepo
	messages pgrepo.MessageRepository
	now      func() time.Time
}

func NewConversationService(convos pgrepo.ConversationRepo, messages pgrepo.MessageRepository) ConversationService {
	return &conversationService{convos: convos, messages: messages, now: func() time.Time { return time.Now().UTC() }}
}

func (s *conversationService) Open(ctx context.Context, userID string) (*models.Conversation, error) {
	const op = "ConversationService.Open"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}

	c, err := s.convos.FindOpenByUser(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeInternal, op, "failed to load conversation", err)
	}

	now := s.now()
	c = &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.ConversationOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.convos.Create(ctx, c); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create conversation", err)
	}
	return c, nil
}

func (s *conversationService) RecordInbound(ctx context.Context, conv *models.Conversation, ev *InboundEvent) (*models.Message, error) {
	const op = "ConversationService.RecordInbound"

	if conv == nil || ev == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation and event are required", nil)
	}

	role := models.RoleUser
	if ev.IsAdmin {
		role = models.RoleAdmin
	}
	now := s.now()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           role,
		Type:           ev.Type,
		ExternalID:     ev.MessageID,
		ContentText:    ev.Text,
		MediaURL:       utils.FirstNonEmpty(ev.MediaURL, ev.AudioURL),
		Payload:        datatypes.JSONMap(ev.Raw),
		CreatedAt:      now,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save message", err)
	}

	if role == models.RoleUser && ev.Type != models.MessageRead {
		at := ev.Timestamp
		if at.IsZero() || at.After(now) {
			at = now
		}
		if err := s.convos.TouchUser(ctx, conv.ID, at); err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to update conversation", err)
		}
		if conv.LastUserMessageAt == nil || at.After(*conv.LastUserMessageAt) {
			conv.LastUserMessageAt = &at
		}
	}
	return msg, nil
}

func (s *conversationService) IsFirstMessage(ctx context.Context, conversationID string) (bool, error) {
	const op = "ConversationService.IsFirstMessage"

	n, err := s.messages.CountByRole(ctx, conversationID, models.RoleUser)
	if err != nil {
		return false, utils.E(utils.CodeInternal, op, "failed to count messages", err)
	}
	return n <= 1, nil
}

func (s *conversationService) LastAssistantText(ctx context.Context, conversationID string) (string, error) {
	const op = "ConversationService.LastAssistantText"

	m, err := s.messages.LastByRole(ctx, conversationID, models.RoleAssistant)
	if errors.Is(err, utils.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to load last reply", err)
	}
	return m.ContentText, nil
}
