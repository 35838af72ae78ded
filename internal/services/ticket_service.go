package services

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/dmcommerce/internal/models"
	mongorepo "github.com/yoockh/dmcommerce/internal/repositories/mongo"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ticketTextMax     = 2000
	loopTicketSummary = "ارجاع خودکار اپراتور (loop)"
	complaintSummary  = "درخواست پشتیبانی"
)

type EscalationConfig struct {
	Threshold int
	Cooldown  time.Duration
}

type TicketService interface {
	// Open reuses the conversation's open or pending ticket, refreshing its
	// last message, or creates a new one.
	Open(ctx context.Context, userID, conversationID, summary, lastMessage string) (*models.SupportTicket, error)
	// EscalateLoop opens a ticket once the loop counter reaches the
	// threshold, at most once per cooldown. It returns nil when nothing was
	// escalated.
	EscalateLoop(ctx context.Context, st *models.ConversationState, userID, lastMessage string) (*models.SupportTicket, error)
}

type ticketService struct {
	tickets pgrepo.TicketRepository
	events  mongorepo.EventRepository
	cfg     EscalationConfig
	log     *logrus.Logger
	now     func() time.Time
}

func NewTicketService(tickets pgrepo.TicketRepository, events mongorepo.EventRepository, cfg EscalationConfig, log *logrus.Logger) TicketService {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	return &ticketService{
		tickets: tickets, events: events, cfg: cfg, log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *ticketService) Open(ctx context.Context, userID, conversationID, summary, lastMessage string) (*models.SupportTicket, error) {
	const op = "TicketService.Open"

	if userID == "" || conversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and conversation_id are required", nil)
	}
	lastMessage = utils.Truncate(lastMessage, ticketTextMax)

	t, err := s.tickets.FindOpen(ctx, conversationID)
	switch {
	case err == nil:
		if lastMessage != "" {
			if err := s.tickets.UpdateLastMessage(ctx, t.ID, lastMessage); err != nil {
				return nil, utils.E(utils.CodeInternal, op, "failed to update ticket", err)
			}
			t.LastMessage = lastMessage
		}
		return t, nil
	case !errors.Is(err, utils.ErrNotFound):
		return nil, utils.E(utils.CodeInternal, op, "failed to load ticket", err)
	}

	now := s.now()
	t = &models.SupportTicket{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Status:         models.TicketOpen,
		Summary:        utils.Truncate(summary, ticketTextMax),
		LastMessage:    lastMessage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create ticket", err)
	}
	s.log.WithFields(logrus.Fields{
		"ticket_id":       t.ID,
		"conversation_id": conversationID,
		"user_id":         userID,
	}).Info("support ticket opened")
	return t, nil
}

func (s *ticketService) EscalateLoop(ctx context.Context, st *models.ConversationState, userID, lastMessage string) (*models.SupportTicket, error) {
	const op = "TicketService.EscalateLoop"

	if st == nil || st.LoopCounter < s.cfg.Threshold {
		return nil, nil
	}

	if s.cfg.Cooldown > 0 && s.events != nil {
		last, err := s.events.LastOfType(ctx, st.ConversationID, models.EventLoopEscalated)
		switch {
		case err == nil:
			if s.now().Sub(last.CreatedAt) < s.cfg.Cooldown {
				return nil, nil
			}
		case !errors.Is(err, utils.ErrNotFound):
			return nil, utils.E(utils.CodeInternal, op, "failed to check escalation cooldown", err)
		}
	}

	t, err := s.Open(ctx, userID, st.ConversationID, loopTicketSummary, lastMessage)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"conversation_id": st.ConversationID,
		"loop_counter":    st.LoopCounter,
		"handler":         st.LastHandlerUsed,
	}).Warn("loop escalated to operator")

	if s.events != nil {
		if err := s.events.Insert(ctx, &models.Event{
			Type: models.EventLoopEscalated, Level: "warning",
			ConversationID: st.ConversationID, UserID: userID,
			Data: map[string]any{
				"ticket_id":        t.ID,
				"loop_counter":     st.LoopCounter,
				"threshold":        s.cfg.Threshold,
				"reason":           st.LastBotAction,
				"cooldown_minutes": int(s.cfg.Cooldown / time.Minute),
			},
		}); err != nil {
			s.log.WithError(err).Warn("event insert failed")
		}
	}
	return t, nil
}
