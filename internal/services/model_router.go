package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yoockh/dmcommerce/internal/classify"
	"github.com/yoockh/dmcommerce/internal/metrics"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/llm"
	mongorepo "github.com/yoockh/dmcommerce/internal/repositories/mongo"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"

	ModeHybrid = "hybrid"
)

const longMessageRunes = 200

// ErrAllProvidersFailed is returned when neither the primary nor the
// secondary provider produced a reply.
var ErrAllProvidersFailed = errors.New("all providers failed")

type RouterConfig struct {
	Mode        string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type ModelRouter interface {
	// Choose picks the primary provider. forcedMode comes from the active
	// bot settings and wins over the configured mode.
	Choose(text, forcedMode string) string
	GenerateWithFallback(ctx context.Context, primary string, msgs []llm.Message, conversationID string) (llm.Result, error)
}

type modelRouter struct {
	providers map[string]llm.Provider
	cls       *classify.Classifier
	usage     pgrepo.UsageRepository
	events    mongorepo.EventRepository
	metrics   *metrics.Metrics
	cfg       RouterConfig
	log       *logrus.Logger
	now       func() time.Time
}

// NewModelRouter keys providers by Name(). A nil provider is skipped, so an
// unconfigured provider fails over like one that errors.
func NewModelRouter(
	providers []llm.Provider,
	cls *classify.Classifier,
	usage pgrepo.UsageRepository,
	events mongorepo.EventRepository,
	m *metrics.Metrics,
	cfg RouterConfig,
	log *logrus.Logger,
) ModelRouter {
	byName := make(map[string]llm.Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			byName[p.Name()] = p
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &modelRouter{
		providers: byName, cls: cls, usage: usage, events: events, metrics: m,
		cfg: cfg, log: log, now: func() time.Time { return time.Now().UTC() },
	}
}

func knownProvider(name string) bool {
	switch name {
	case ProviderOpenAI, ProviderDeepSeek, ProviderGemini:
		return true
	}
	return false
}

func (r *modelRouter) Choose(text, forcedMode string) string {
	if forced := strings.ToLower(strings.TrimSpace(forcedMode)); knownProvider(forced) {
		return forced
	}
	if mode := strings.ToLower(r.cfg.Mode); knownProvider(mode) {
		return mode
	}

	lower := strings.ToLower(text)
	if utf8.RuneCountInString(lower) > longMessageRunes {
		return ProviderOpenAI
	}
	if strings.Count(lower, "?")+strings.Count(lower, "؟") > 1 {
		return ProviderOpenAI
	}
	if r.cls.IsSensitive(lower) {
		return ProviderOpenAI
	}
	return ProviderDeepSeek
}

// secondaryOf is the single fallback tried after primary fails.
func secondaryOf(primary string) string {
	if primary == ProviderOpenAI {
		return ProviderDeepSeek
	}
	return ProviderOpenAI
}

func (r *modelRouter) GenerateWithFallback(ctx context.Context, primary string, msgs []llm.Message, conversationID string) (llm.Result, error) {
	const op = "ModelRouter.GenerateWithFallback"

	if len(msgs) == 0 {
		return llm.Result{}, utils.E(utils.CodeInvalidArgument, op, "messages are required", nil)
	}
	if !knownProvider(primary) {
		primary = ProviderDeepSeek
	}

	order := []string{primary}
	if sec := secondaryOf(primary); sec != primary {
		order = append(order, sec)
	}

	var lastErr error
	for i, name := range order {
		res, err := r.call(ctx, name, msgs)
		if err == nil {
			if i > 0 {
				r.logFallback(ctx, conversationID, primary, name, lastErr)
			}
			r.recordUsage(ctx, res)
			return res, nil
		}
		lastErr = err
		r.log.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"provider":        name,
		}).WithError(err).Warn("provider failed")

		if ctx.Err() != nil {
			break
		}
	}
	return llm.Result{}, utils.E(utils.CodeUnavailable, op, ErrAllProvidersFailed.Error(), errors.Join(ErrAllProvidersFailed, lastErr))
}

func (r *modelRouter) call(ctx context.Context, name string, msgs []llm.Message) (llm.Result, error) {
	p, ok := r.providers[name]
	if !ok {
		return llm.Result{}, &llm.ProviderError{Provider: name, Reason: llm.ReasonMissingKey}
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := p.Generate(cctx, msgs, llm.Params{Temperature: r.cfg.Temperature, MaxTokens: r.cfg.MaxTokens})
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = &llm.ProviderError{Provider: name, Reason: llm.ReasonEmptyContent}
	}
	r.metrics.ProviderCall(name, err == nil, start)
	if err != nil {
		return llm.Result{}, err
	}
	if res.Provider == "" {
		res.Provider = name
	}
	return res, nil
}

func (r *modelRouter) recordUsage(ctx context.Context, res llm.Result) {
	if r.usage == nil {
		return
	}
	now := r.now()
	u := &models.Usage{
		ID:        uuid.NewString(),
		Date:      time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Provider:  res.Provider,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		CreatedAt: now,
	}
	if err := r.usage.Insert(ctx, u); err != nil {
		r.log.WithField("provider", res.Provider).WithError(err).Warn("usage insert failed")
	}
}

func (r *modelRouter) logFallback(ctx context.Context, conversationID, primary, used string, cause error) {
	data := map[string]any{"primary": primary, "provider": used}
	if cause != nil {
		data["error"] = cause.Error()
	}
	r.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"primary":         primary,
		"provider":        used,
	}).Info("provider fallback used")

	if r.events == nil {
		return
	}
	if err := r.events.Insert(ctx, &models.Event{
		Type: models.EventProviderFallback, Level: "warning",
		ConversationID: conversationID, Data: data,
	}); err != nil {
		r.log.WithError(err).Warn("event insert failed")
	}
}
