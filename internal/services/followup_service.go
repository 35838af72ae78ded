package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yoockh/dmcommerce/internal/metrics"
	"github.com/yoockh/dmcommerce/internal/models"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	followupBatch = 20
	followupLease = 10 * time.Minute
)

type FollowupConfig struct {
	Enabled bool
	Delay   time.Duration
	Message string
}

// effective applies the active bot settings row over the environment.
func (c FollowupConfig) effective(s *models.BotSettings) FollowupConfig {
	if s == nil {
		return c
	}
	if s.FollowupEnabled != nil {
		c.Enabled = *s.FollowupEnabled
	}
	if s.FollowupDelayHours > 0 {
		c.Delay = time.Duration(s.FollowupDelayHours) * time.Hour
	}
	if strings.TrimSpace(s.FollowupMessage) != "" {
		c.Message = s.FollowupMessage
	}
	return c
}

type FollowupService interface {
	// Schedule returns a nil task when followups are off, the user opted
	// out, or a task is already scheduled.
	Schedule(ctx context.Context, user *models.User, conversationID, reason string) (*models.FollowupTask, error)
	// Cancel drops every scheduled task of the user.
	Cancel(ctx context.Context, userID string) (int64, error)
	// ProcessDue sends due tasks and returns how many were handled.
	ProcessDue(ctx context.Context) (int, error)
}

type followupService struct {
	followups  pgrepo.FollowupRepository
	users      pgrepo.UserRepository
	knowledge  pgrepo.KnowledgeRepository
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	cfg        FollowupConfig
	log        *logrus.Logger
	now        func() time.Time
}

func NewFollowupService(
	followups pgrepo.FollowupRepository,
	users pgrepo.UserRepository,
	knowledge pgrepo.KnowledgeRepository,
	dispatcher Dispatcher,
	m *metrics.Metrics,
	cfg FollowupConfig,
	log *logrus.Logger,
) FollowupService {
	if cfg.Delay <= 0 {
		cfg.Delay = 20 * time.Hour
	}
	return &followupService{
		followups: followups, users: users, knowledge: knowledge, dispatcher: dispatcher,
		metrics: m, cfg: cfg, log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *followupService) config(ctx context.Context) FollowupConfig {
	if s.knowledge == nil {
		return s.cfg
	}
	bs, err := s.knowledge.ActiveSettings(ctx)
	if err != nil {
		if !errors.Is(err, utils.ErrNotFound) {
			s.log.WithError(err).Warn("bot settings unavailable, using defaults")
		}
		return s.cfg
	}
	return s.cfg.effective(bs)
}

func (s *followupService) Schedule(ctx context.Context, user *models.User, conversationID, reason string) (*models.FollowupTask, error) {
	const op = "FollowupService.Schedule"

	if user == nil || conversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user and conversation_id are required", nil)
	}
	cfg := s.config(ctx)
	if !cfg.Enabled || user.FollowupOptOut {
		return nil, nil
	}

	exists, err := s.followups.HasScheduled(ctx, user.ID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to check scheduled followups", err)
	}
	if exists {
		return nil, nil
	}

	now := s.now()
	task := &models.FollowupTask{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		ConversationID: conversationID,
		Status:         models.FollowupScheduled,
		ScheduledFor:   now.Add(cfg.Delay),
		Reason:         reason,
		Payload:        cfg.Message,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.followups.Create(ctx, task); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create followup", err)
	}

	s.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"user_id":         user.ID,
		"scheduled_for":   task.ScheduledFor,
		"reason":          reason,
	}).Info("followup scheduled")
	return task, nil
}

func (s *followupService) Cancel(ctx context.Context, userID string) (int64, error) {
	const op = "FollowupService.Cancel"

	n, err := s.followups.CancelScheduled(ctx, userID)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to cancel followups", err)
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"user_id": userID, "count": n}).Info("followups cancelled")
	}
	return n, nil
}

func (s *followupService) ProcessDue(ctx context.Context) (int, error) {
	const op = "FollowupService.ProcessDue"

	cfg := s.config(ctx)
	if !cfg.Enabled {
		return 0, nil
	}

	tasks, err := s.followups.ClaimDue(ctx, s.now(), followupLease, followupBatch)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to claim due followups", err)
	}

	for i := range tasks {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		status := s.send(ctx, &tasks[i], cfg)
		s.metrics.Followup(string(status))
	}
	return len(tasks), nil
}

func (s *followupService) send(ctx context.Context, task *models.FollowupTask, cfg FollowupConfig) models.FollowupStatus {
	lg := s.log.WithFields(logrus.Fields{
		"task_id":         task.ID,
		"conversation_id": task.ConversationID,
		"user_id":         task.UserID,
	})

	mark := func(status models.FollowupStatus, sentAt *time.Time, reason string) models.FollowupStatus {
		if err := s.followups.MarkStatus(ctx, task.ID, status, sentAt, reason); err != nil {
			lg.WithError(err).Error("failed to update followup status")
		}
		return status
	}

	user, err := s.users.GetByID(ctx, task.UserID)
	if err != nil || user.ExternalID == "" {
		lg.WithError(err).Warn("followup user missing")
		return mark(models.FollowupFailed, nil, "user_missing")
	}
	if user.FollowupOptOut {
		lg.Info("user opted out after scheduling, followup skipped")
		return mark(models.FollowupSkipped, nil, "opted_out")
	}

	text := strings.TrimSpace(task.Payload)
	if text == "" {
		text = cfg.Message
	}

	res, err := s.dispatcher.Dispatch(ctx, task.ConversationID, user.ExternalID, models.TextPlan(text), DispatchMeta{
		UserID:  user.ID,
		Handler: HandlerFollowup,
		Intent:  HandlerFollowup,
	})
	switch {
	case err != nil:
		lg.WithError(err).Warn("followup dispatch failed")
		return mark(models.FollowupFailed, nil, "dispatch_error")
	case res.Status == DispatchWindowExpired:
		return mark(models.FollowupSkipped, nil, "window_expired")
	case !res.Delivered():
		return mark(models.FollowupFailed, nil, "send_failed")
	}

	sentAt := s.now()
	lg.Info("followup sent")
	return mark(models.FollowupSent, &sentAt, "")
}
