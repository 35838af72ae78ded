package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yoockh/dmcommerce/internal/logger"
	"github.com/yoockh/dmcommerce/internal/models"
	"github.com/yoockh/dmcommerce/internal/providers/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRouterChoose(t *testing.T) {
	r := NewModelRouter(nil, testClassifier(), nil, nil, nil, RouterConfig{Mode: ModeHybrid}, logger.Discard())

	tests := []struct {
		name   string
		text   string
		forced string
		want   string
	}{
		{"short message", "کفش نایک دارید", "", ProviderDeepSeek},
		{"long message", strings.Repeat("سلام ", 50), "", ProviderOpenAI},
		{"several questions", "سایز داره؟ رنگ مشکی هست؟", "", ProviderOpenAI},
		{"sensitive keyword", "مشکل پرداخت دارم", "", ProviderOpenAI},
		{"forced mode", strings.Repeat("سلام ", 50), "DeepSeek", ProviderDeepSeek},
		{"forced gemini", "سلام", "gemini", ProviderGemini},
		{"unknown forced mode ignored", "سلام", "claude", ProviderDeepSeek},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Choose(tt.text, tt.forced))
		})
	}

	fixed := NewModelRouter(nil, testClassifier(), nil, nil, nil, RouterConfig{Mode: "openai"}, logger.Discard())
	assert.Equal(t, ProviderOpenAI, fixed.Choose("سلام", ""))
	assert.Equal(t, ProviderDeepSeek, fixed.Choose("سلام", "deepseek"), "settings outrank env mode")
}

func TestGenerateWithFallback(t *testing.T) {
	ctx := context.Background()
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "سلام"}}

	t.Run("primary answers", func(t *testing.T) {
		openai := &fakeProvider{name: ProviderOpenAI, text: "سلام از openai"}
		deepseek := &fakeProvider{name: ProviderDeepSeek, text: "سلام از deepseek"}
		usage := &fakeUsage{}
		events := &fakeEvents{}
		r := NewModelRouter([]llm.Provider{openai, deepseek}, testClassifier(), usage, events, nil, RouterConfig{}, logger.Discard())

		res, err := r.GenerateWithFallback(ctx, ProviderDeepSeek, msgs, "c1")
		require.NoError(t, err)
		assert.Equal(t, "سلام از deepseek", res.Text)
		assert.Equal(t, 0, openai.Calls())
		require.Len(t, usage.rows, 1)
		assert.Equal(t, ProviderDeepSeek, usage.rows[0].Provider)
		assert.Equal(t, 10, usage.rows[0].TokensIn)
		assert.Empty(t, events.ofType(models.EventProviderFallback))
	})

	t.Run("secondary after failure", func(t *testing.T) {
		openai := &fakeProvider{name: ProviderOpenAI, err: &llm.ProviderError{Provider: ProviderOpenAI, Reason: llm.ReasonHTTP, StatusCode: 500}}
		deepseek := &fakeProvider{name: ProviderDeepSeek, text: "جواب"}
		usage := &fakeUsage{}
		events := &fakeEvents{}
		r := NewModelRouter([]llm.Provider{openai, deepseek}, testClassifier(), usage, events, nil, RouterConfig{}, logger.Discard())

		res, err := r.GenerateWithFallback(ctx, ProviderOpenAI, msgs, "c1")
		require.NoError(t, err)
		assert.Equal(t, ProviderDeepSeek, res.Provider)
		assert.Equal(t, 1, openai.Calls())
		require.Len(t, usage.rows, 1)
		assert.Equal(t, ProviderDeepSeek, usage.rows[0].Provider)

		fallbacks := events.ofType(models.EventProviderFallback)
		require.Len(t, fallbacks, 1)
		assert.Equal(t, ProviderOpenAI, fallbacks[0].Data["primary"])
	})

	t.Run("empty content is a failure", func(t *testing.T) {
		deepseek := &fakeProvider{name: ProviderDeepSeek, text: "  "}
		openai := &fakeProvider{name: ProviderOpenAI, text: "پاسخ"}
		r := NewModelRouter([]llm.Provider{openai, deepseek}, testClassifier(), nil, nil, nil, RouterConfig{}, logger.Discard())

		res, err := r.GenerateWithFallback(ctx, ProviderDeepSeek, msgs, "c1")
		require.NoError(t, err)
		assert.Equal(t, "پاسخ", res.Text)
	})

	t.Run("gemini falls back to openai", func(t *testing.T) {
		openai := &fakeProvider{name: ProviderOpenAI, text: "پاسخ"}
		deepseek := &fakeProvider{name: ProviderDeepSeek, text: "نباید"}
		r := NewModelRouter([]llm.Provider{openai, deepseek, nil}, testClassifier(), nil, nil, nil, RouterConfig{}, logger.Discard())

		res, err := r.GenerateWithFallback(ctx, ProviderGemini, msgs, "c1")
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, res.Provider)
		assert.Equal(t, 0, deepseek.Calls())
	})

	t.Run("both fail once each", func(t *testing.T) {
		openai := &fakeProvider{name: ProviderOpenAI, err: errors.New("boom")}
		deepseek := &fakeProvider{name: ProviderDeepSeek, err: errors.New("boom")}
		usage := &fakeUsage{}
		r := NewModelRouter([]llm.Provider{openai, deepseek}, testClassifier(), usage, nil, nil, RouterConfig{}, logger.Discard())

		_, err := r.GenerateWithFallback(ctx, ProviderDeepSeek, msgs, "c1")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAllProvidersFailed)
		assert.Equal(t, 1, openai.Calls())
		assert.Equal(t, 1, deepseek.Calls())
		assert.Empty(t, usage.rows)
	})

	t.Run("no messages", func(t *testing.T) {
		r := NewModelRouter(nil, testClassifier(), nil, nil, nil, RouterConfig{}, logger.Discard())
		_, err := r.GenerateWithFallback(ctx, ProviderOpenAI, nil, "c1")
		require.Error(t, err)
	})
}
