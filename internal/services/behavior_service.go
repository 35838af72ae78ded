package services

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/models"
	mongorepo "github.com/yoockh/dmcommerce/internal/repositories/mongo"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	behaviorRecentMessages = 20
	behaviorRecentMatches  = 5
	behaviorSnapshotText   = 500
)

type BehaviorConfig struct {
	HistoryLimit  int
	MinConfidence float64
	VIPThreshold  int
}

type BehaviorService interface {
	// Observe classifies text, updates the user's behavior profile and logs
	// pattern_detected. It returns nil when no pattern is confident enough.
	Observe(ctx context.Context, u *models.User, conversationID, text string) (*classify.BehaviorMatch, error)
}

type behaviorService struct {
	cls      *classify.Classifier
	profiles pgrepo.BehaviorRepository
	users    pgrepo.UserRepository
	messages pgrepo.MessageRepository
	events   mongorepo.EventRepository
	cfg      BehaviorConfig
	log      *logrus.Logger
	now      func() time.Time
}

func NewBehaviorService(
	cls *classify.Classifier,
	profiles pgrepo.BehaviorRepository,
	users pgrepo.UserRepository,
	messages pgrepo.MessageRepository,
	events mongorepo.EventRepository,
	cfg BehaviorConfig,
	log *logrus.Logger,
) BehaviorService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.VIPThreshold <= 0 {
		cfg.VIPThreshold = 3
	}
	return &behaviorService{
		cls: cls, profiles: profiles, users: users, messages: messages, events: events,
		cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *behaviorService) Observe(ctx context.Context, u *models.User, conversationID, text string) (*classify.BehaviorMatch, error) {
	const op = "BehaviorService.Observe"

	if u == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user is required", nil)
	}
	match, ok := s.cls.DetectBehavior(text, s.cfg.MinConfidence)
	if !ok {
		return nil, nil
	}

	profile, err := s.profiles.Get(ctx, u.ID)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		profile = &models.BehaviorProfile{UserID: u.ID}
	case err != nil:
		return nil, utils.E(utils.CodeInternal, op, "failed to load behavior profile", err)
	}

	now := s.now()
	profile.AppendHit(models.PatternHit{
		Pattern:    match.Pattern,
		Confidence: match.Confidence,
		Reason:     match.Reason,
		Keywords:   match.Keywords,
		Tags:       match.Tags,
		CreatedAt:  now,
	}, s.cfg.HistoryLimit)
	profile.Snapshot = s.snapshot(ctx, conversationID, text)
	profile.UpdatedAt = now
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save behavior profile", err)
	}

	s.logEvent(ctx, &models.Event{
		Type: models.EventPatternDetected, Level: "info",
		ConversationID: conversationID, UserID: u.ID,
		Data: map[string]any{
			"pattern":    match.Pattern,
			"confidence": match.Confidence,
			"reason":     match.Reason,
			"keywords":   match.Keywords,
			"tags":       match.Tags,
		},
	})

	if slices.Contains(s.cls.Rules().Behavior.VIPPatterns, match.Pattern) {
		s.bumpVIP(ctx, u, conversationID)
	}
	return &match, nil
}

// snapshot summarizes the patterns of the conversation's recent user
// messages for the model context.
func (s *behaviorService) snapshot(ctx context.Context, conversationID, text string) datatypes.JSONMap {
	snap := datatypes.JSONMap{"last_message": utils.Truncate(text, behaviorSnapshotText)}
	if s.messages == nil || conversationID == "" {
		return snap
	}
	history, err := s.messages.Recent(ctx, conversationID, behaviorRecentMessages)
	if err != nil {
		s.log.WithError(err).Warn("behavior history unavailable")
		return snap
	}
	var texts []string
	for _, m := range history {
		if m.Role == models.RoleUser && m.ContentText != "" {
			texts = append(texts, m.ContentText)
		}
	}
	counts, recent := s.cls.SummarizeBehaviors(texts, s.cfg.MinConfidence, behaviorRecentMatches)
	snap["summary"] = counts
	snap["recent"] = recent
	return snap
}

func (s *behaviorService) bumpVIP(ctx context.Context, u *models.User, conversationID string) {
	wasVIP := u.IsVIP
	score := u.VIPScore + 1
	vip := wasVIP || score >= s.cfg.VIPThreshold
	if err := s.users.SetVIP(ctx, u.ID, score, vip); err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Warn("failed to update vip score")
		return
	}
	u.VIPScore, u.IsVIP = score, vip
	promoted := vip && !wasVIP
	if !promoted {
		return
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "vip_score": score}).Info("user promoted to vip")
	s.logEvent(ctx, &models.Event{
		Type: models.EventVIPPromoted, Level: "info",
		ConversationID: conversationID, UserID: u.ID,
		Data: map[string]any{"vip_score": score},
	})
}

func (s *behaviorService) logEvent(ctx context.Context, e *models.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Insert(ctx, e); err != nil {
		s.log.WithError(err).Warn("event insert failed")
	}
}
