package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/yoockh/dmcommerce/internal/metrics"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/channel"
	mongorepo "github.com/yoockh/dmcommerce/internal/repositories/mongo"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Dispatch outcomes, also used as the metrics status label.
const (
	DispatchSent          = "sent"
	DispatchDemoted       = "demoted"
	DispatchWindowExpired = "window_expired"
	DispatchFailed        = "failed"
)

type DispatchConfig struct {
	Window       time.Duration
	MaxChars     int
	Limits       PlanLimits
	FallbackText string
}

// DispatchMeta tags a reply for the state cache and the response log.
type DispatchMeta struct {
	UserID     string
	Handler    string
	Intent     string
	StoreTopic string
	// Raw is the generated answer before the guardrail touched it. Loop
	// detection compares it instead of the rewritten text.
	Raw string
}

// ActionKey is the state cache key: intent, or intent:topic for store replies.
func (m DispatchMeta) ActionKey() string {
	if m.Intent == "" {
		return ""
	}
	if m.StoreTopic != "" {
		return m.Intent + ":" + m.StoreTopic
	}
	return m.Intent
}

type DispatchResult struct {
	Status    string
	MessageID string
	// Plan is what went out after normalization and any demotion.
	Plan models.OutboundPlan
}

func (r *DispatchResult) Delivered() bool {
	return r != nil && (r.Status == DispatchSent || r.Status == DispatchDemoted)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, conversationID, receiverID string, plan models.OutboundPlan, meta DispatchMeta) (*DispatchResult, error)
	// Normalize applies field requirements and channel caps to plan.
	Normalize(plan models.OutboundPlan) models.OutboundPlan
}

type dispatcher struct {
	conversations pgrepo.ConversationRepo
	messages      pgrepo.MessageRepository
	state         StateService
	sender        channel.Sender
	events        mongorepo.EventRepository
	metrics       *metrics.Metrics
	cfg           DispatchConfig
	log           *logrus.Logger
	now           func() time.Time
}

func NewDispatcher(
	conversations pgrepo.ConversationRepo,
	messages pgrepo.MessageRepository,
	state StateService,
	sender channel.Sender,
	events mongorepo.EventRepository,
	m *metrics.Metrics,
	cfg DispatchConfig,
	log *logrus.Logger,
) Dispatcher {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 800
	}
	cfg.Limits.defaults()
	return &dispatcher{
		conversations: conversations, messages: messages, state: state, sender: sender,
		events: events, metrics: m, cfg: cfg, log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (d *dispatcher) Dispatch(ctx context.Context, conversationID, receiverID string, plan models.OutboundPlan, meta DispatchMeta) (*DispatchResult, error) {
	const op = "Dispatcher.Dispatch"

	if conversationID == "" || receiverID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation_id and receiver_id are required", nil)
	}

	conv, err := d.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load conversation", err)
	}

	lg := d.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"handler":         meta.Handler,
		"intent":          meta.Intent,
	})

	if !conv.WithinWindow(d.now(), d.cfg.Window) {
		lg.Info("window expired, reply skipped")
		d.event(ctx, models.EventWindowExpired, "info", conversationID, meta.UserID, map[string]any{
			"receiver_id": receiverID,
			"handler":     meta.Handler,
		})
		d.metrics.Dispatch(string(plan.Type), DispatchWindowExpired)
		return &DispatchResult{Status: DispatchWindowExpired, Plan: plan}, nil
	}

	plan = d.Normalize(plan)
	status := DispatchSent

	msgID, err := d.sender.Send(ctx, receiverID, plan)
	if err != nil {
		lg.WithField("plan_type", plan.Type).WithError(err).Warn("send failed")
		d.event(ctx, models.EventSendError, "error", conversationID, meta.UserID, map[string]any{
			"receiver_id":  receiverID,
			"message_type": string(plan.Type),
			"error":        err.Error(),
		})
		d.metrics.Dispatch(string(plan.Type), DispatchFailed)

		var sendErr *channel.SendError
		if !errors.As(err, &sendErr) {
			return &DispatchResult{Status: DispatchFailed, Plan: plan}, nil
		}

		// one retry as plain text; a text plan is resent as is
		if plan.Type != models.PlanText {
			status = DispatchDemoted
		}
		plan = models.TextPlan(d.demotedText(plan))
		msgID, err = d.sender.Send(ctx, receiverID, plan)
		if err != nil {
			lg.WithError(err).Error("text fallback send failed")
			d.metrics.Dispatch(string(plan.Type), DispatchFailed)
			return &DispatchResult{Status: DispatchFailed, Plan: plan}, nil
		}
	}
	d.metrics.Dispatch(string(plan.Type), status)

	d.persist(ctx, conversationID, msgID, plan, meta, lg)

	lg.WithFields(logrus.Fields{"plan_type": plan.Type, "message_id": msgID}).Info("reply sent")
	return &DispatchResult{Status: status, MessageID: msgID, Plan: plan}, nil
}

// persist stores the sent reply. The message is already out, so failures
// here are logged and never undo the send.
func (d *dispatcher) persist(ctx context.Context, conversationID, msgID string, plan models.OutboundPlan, meta DispatchMeta, lg *logrus.Entry) {
	now := d.now()
	text := d.demotedText(plan)

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Type:           plan.MessageType(),
		ExternalID:     msgID,
		ContentText:    plan.Text,
		MediaURL:       plan.MediaURL,
		Payload:        planPayload(plan),
		CreatedAt:      now,
	}
	if err := d.messages.Insert(ctx, msg); err != nil {
		lg.WithError(err).Error("failed to store assistant message")
	}
	if err := d.conversations.TouchBot(ctx, conversationID, now); err != nil {
		lg.WithError(err).Warn("failed to advance last_bot_message_at")
	}

	if key := meta.ActionKey(); key != "" && d.state != nil {
		action := BotAction{IntentKey: key, Handler: meta.Handler, Answer: text, Raw: meta.Raw}
		if _, err := d.state.RecordBotAction(ctx, conversationID, action); err != nil {
			lg.WithError(err).Warn("failed to record bot action")
		}
	}

	data := map[string]any{
		"text":         text,
		"handler":      meta.Handler,
		"intent":       meta.Intent,
		"message_type": string(plan.Type),
		"message_id":   msgID,
	}
	if meta.StoreTopic != "" {
		data["store_topic"] = meta.StoreTopic
	}
	d.event(ctx, models.EventAssistantResponse, "info", conversationID, meta.UserID, data)
}

func (d *dispatcher) event(ctx context.Context, typ, level, conversationID, userID string, data map[string]any) {
	if d.events == nil {
		return
	}
	if err := d.events.Insert(ctx, &models.Event{
		Type: typ, Level: level, ConversationID: conversationID, UserID: userID, Data: data,
	}); err != nil {
		d.log.WithField("event_type", typ).WithError(err).Warn("event insert failed")
	}
}

func (d *dispatcher) demotedText(plan models.OutboundPlan) string {
	if text := strings.TrimSpace(plan.PlainText()); text != "" {
		return text
	}
	return d.cfg.FallbackText
}

func (d *dispatcher) textOnly(text string) models.OutboundPlan {
	if strings.TrimSpace(text) == "" {
		text = d.cfg.FallbackText
	}
	return models.TextPlan(strings.TrimSpace(utils.Truncate(text, d.cfg.MaxChars)))
}

func (d *dispatcher) Normalize(plan models.OutboundPlan) models.OutboundPlan {
	lim := d.cfg.Limits

	switch plan.Type {
	case models.PlanText, models.PlanButton, models.PlanQuickReply:
		if strings.TrimSpace(plan.Text) == "" {
			plan.Text = d.cfg.FallbackText
		}
	case models.PlanGenericTemplate:
		if len(plan.Elements) == 0 {
			return d.textOnly(plan.Text)
		}
	case models.PlanPhoto, models.PlanVideo, models.PlanAudio:
		if strings.TrimSpace(plan.MediaURL) == "" {
			return d.textOnly(plan.Text)
		}
	default:
		return d.textOnly(plan.Text)
	}
	if plan.Text != "" {
		plan.Text = strings.TrimSpace(utils.Truncate(plan.Text, d.cfg.MaxChars))
	}

	switch plan.Type {
	case models.PlanButton:
		plan.Buttons = capButtons(plan.Buttons, lim.MaxButtons)
		if len(plan.Buttons) == 0 {
			return d.textOnly(plan.Text)
		}
	case models.PlanQuickReply:
		opts := plan.QuickReplies
		if len(opts) > lim.MaxQuickReplies {
			opts = opts[:lim.MaxQuickReplies]
		}
		cleaned := make([]models.QuickReplyOption, 0, len(opts))
		for _, o := range opts {
			o.Title = strings.TrimSpace(utils.Truncate(o.Title, lim.QuickReplyTitleMax))
			o.Payload = strings.TrimSpace(utils.Truncate(o.Payload, lim.QuickReplyPayloadMax))
			if o.Title == "" || o.Payload == "" {
				continue
			}
			cleaned = append(cleaned, o)
		}
		plan.QuickReplies = cleaned
		if len(cleaned) == 0 {
			return d.textOnly(plan.Text)
		}
	case models.PlanGenericTemplate:
		els := plan.Elements
		if len(els) > lim.MaxTemplateSlides {
			els = els[:lim.MaxTemplateSlides]
		}
		cleaned := make([]models.TemplateElement, 0, len(els))
		for _, el := range els {
			el.Title = strings.TrimSpace(utils.Truncate(el.Title, templateTitleMax))
			if el.Title == "" {
				continue
			}
			el.Subtitle = strings.TrimSpace(utils.Truncate(el.Subtitle, templateSubtitleMax))
			el.Buttons = capButtons(el.Buttons, lim.MaxButtons)
			cleaned = append(cleaned, el)
		}
		plan.Elements = cleaned
		if len(cleaned) == 0 {
			return d.textOnly(plan.Text)
		}
	}
	return plan
}

// capButtons keeps the first max buttons, then drops incomplete ones.
func capButtons(buttons []models.Button, max int) []models.Button {
	if len(buttons) > max {
		buttons = buttons[:max]
	}
	out := make([]models.Button, 0, len(buttons))
	for _, b := range buttons {
		if b.Complete() {
			out = append(out, b)
		}
	}
	return out
}

func planPayload(plan models.OutboundPlan) datatypes.JSONMap {
	raw, err := json.Marshal(plan)
	if err != nil {
		return nil
	}
	var m datatypes.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
