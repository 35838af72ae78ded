package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the runtime configuration of the bot, read from the
// environment once at startup.
type Settings struct {
	Port string

	WindowHours          int
	MaxResponseChars     int
	MaxResponseSentences int
	MaxQuickReplies      int
	MaxButtons           int
	MaxTemplateSlides    int
	QuickReplyTitleMax   int
	QuickReplyPayloadMax int

	ProductMatchLimit          int
	ProductMatchCandidates     int
	ProductMatchMinScore       int
	ProductMatchSingleTokenMin int
	LLMProductContextLimit     int
	ProductContinueTTL         time.Duration
	ProductCatalogTTL          time.Duration

	LLMMode         string // hybrid|openai|deepseek|gemini
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	DeepSeekAPIKey  string
	DeepSeekModel   string
	DeepSeekBaseURL string
	LLMTemperature  float64
	LLMTimeout      time.Duration
	LLMMaxUserTurns int

	GeminiProject  string
	GeminiLocation string
	GeminiModel    string
	// GoogleCredentials is a service account file for Vertex AI, Speech and
	// Storage clients. Empty means application default credentials.
	GoogleCredentials string

	MaxHistoryMessages int
	RequestTimeout     time.Duration

	BehaviorHistoryLimit  int
	BehaviorMinConfidence float64
	VIPScoreThreshold     int

	FollowupEnabled bool
	FollowupDelay   time.Duration
	FollowupPoll    time.Duration

	OrderFormEnabled bool
	OrderFormTTL     time.Duration

	CrossSellEnabled  bool
	CrossSellCooldown time.Duration

	LoopEscalationThreshold int
	LoopEscalationCooldown  time.Duration

	InboundWorkers int
	InboundStream  string
	InboundGroup   string

	ChannelBaseURL string
	ServiceAPIKey  string
	WebhookSecret  string

	STTEnabled  bool
	STTLanguage string
	GCSBucket   string

	RulesPath    string
	EventTTLDays int
	AutoMigrate  bool
}

// Load reads Settings from the environment. Unset or unparsable values fall
// back to defaults; numeric values are clamped to sane ranges.
func Load() Settings {
	return Settings{
		Port: envString("PORT", "8080"),

		WindowHours:          envInt("WINDOW_HOURS", 24, 1, 24*7),
		MaxResponseChars:     envInt("MAX_RESPONSE_CHARS", 800, 50, 4000),
		MaxResponseSentences: envInt("MAX_RESPONSE_SENTENCES", 3, 1, 20),
		MaxQuickReplies:      envInt("MAX_QUICK_REPLIES", 13, 1, 13),
		MaxButtons:           envInt("MAX_BUTTONS", 3, 1, 3),
		MaxTemplateSlides:    envInt("MAX_TEMPLATE_SLIDES", 10, 1, 10),
		QuickReplyTitleMax:   envInt("QUICK_REPLY_TITLE_MAX_CHARS", 20, 1, 80),
		QuickReplyPayloadMax: envInt("QUICK_REPLY_PAYLOAD_MAX_CHARS", 20, 1, 1000),

		ProductMatchLimit:          envInt("PRODUCT_MATCH_LIMIT", 5, 1, 50),
		ProductMatchCandidates:     envInt("PRODUCT_MATCH_CANDIDATES", 50, 1, 500),
		ProductMatchMinScore:       envInt("PRODUCT_MATCH_MIN_SCORE", 2, 1, 10),
		ProductMatchSingleTokenMin: envInt("PRODUCT_MATCH_SINGLE_TOKEN_MIN_LEN", 5, 1, 20),
		LLMProductContextLimit:     envInt("LLM_PRODUCT_CONTEXT_LIMIT", 8, 0, 50),
		ProductContinueTTL:         envSeconds("PRODUCT_CONTINUE_TTL_SEC", 1800, 60, 86400),
		ProductCatalogTTL:          envSeconds("PRODUCT_CATALOG_TTL_SEC", 300, 10, 86400),

		LLMMode:         strings.ToLower(envString("LLM_MODE", "hybrid")),
		OpenAIAPIKey:    envString("OPENAI_API_KEY", ""),
		OpenAIModel:     envString("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		DeepSeekAPIKey:  envString("DEEPSEEK_API_KEY", ""),
		DeepSeekModel:   envString("DEEPSEEK_MODEL", "deepseek-chat"),
		DeepSeekBaseURL: envString("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		LLMTemperature:  envFloat("LLM_TEMPERATURE", 0.3, 0, 2),
		LLMTimeout:      envSeconds("LLM_TIMEOUT_SEC", 15, 1, 120),
		LLMMaxUserTurns: envInt("LLM_MAX_USER_TURNS", 6, 1, 50),

		GeminiProject:     envString("GEMINI_PROJECT", ""),
		GeminiLocation:    envString("GEMINI_LOCATION", "us-central1"),
		GeminiModel:       envString("GEMINI_MODEL", "gemini-1.5-flash"),
		GoogleCredentials: envString("GOOGLE_APPLICATION_CREDENTIALS", ""),

		MaxHistoryMessages: envInt("MAX_HISTORY_MESSAGES", 20, 1, 200),
		RequestTimeout:     envSeconds("REQUEST_TIMEOUT_SEC", 20, 1, 120),

		BehaviorHistoryLimit:  envInt("BEHAVIOR_HISTORY_LIMIT", 20, 1, 500),
		BehaviorMinConfidence: envFloat("BEHAVIOR_MIN_CONFIDENCE", 0.45, 0, 1),
		VIPScoreThreshold:     envInt("VIP_SCORE_THRESHOLD", 3, 1, 1000),

		FollowupEnabled: envBool("FOLLOWUP_ENABLED", true),
		FollowupDelay:   time.Duration(envInt("FOLLOWUP_DELAY_HOURS", 20, 1, 24*7)) * time.Hour,
		FollowupPoll:    envSeconds("FOLLOWUP_POLL_SEC", 60, 5, 3600),

		OrderFormEnabled: envBool("ORDER_FORM_ENABLED", true),
		OrderFormTTL:     time.Duration(envInt("ORDER_FORM_TTL_MIN", 60, 1, 24*60)) * time.Minute,

		CrossSellEnabled:  envBool("CROSS_SELL_ENABLED", true),
		CrossSellCooldown: time.Duration(envInt("CROSS_SELL_COOLDOWN_MIN", 1440, 0, 30*24*60)) * time.Minute,

		LoopEscalationThreshold: envInt("LOOP_ESCALATION_THRESHOLD", 3, 1, 100),
		LoopEscalationCooldown:  time.Duration(envInt("LOOP_ESCALATION_COOLDOWN_MIN", 60, 0, 7*24*60)) * time.Minute,

		InboundWorkers: envInt("INBOUND_WORKERS", 4, 1, 64),
		InboundStream:  envString("INBOUND_STREAM", "inbound:stream"),
		InboundGroup:   envString("INBOUND_GROUP", "inbound-workers"),

		ChannelBaseURL: strings.TrimRight(envString("CHANNEL_BASE_URL", ""), "/"),
		ServiceAPIKey:  envString("SERVICE_API_KEY", ""),
		WebhookSecret:  envString("WEBHOOK_SECRET", ""),

		STTEnabled:  envBool("STT_ENABLED", false),
		STTLanguage: envString("STT_LANGUAGE", "fa-IR"),
		GCSBucket:   envString("GCS_BUCKET", ""),

		RulesPath:    envString("RULES_PATH", ""),
		EventTTLDays: envInt("EVENT_TTL_DAYS", 30, 1, 3650),
		AutoMigrate:  envBool("DB_AUTOMIGRATE", false),
	}
}

// Window is the delivery window after the user's last message.
func (s Settings) Window() time.Duration {
	return time.Duration(s.WindowHours) * time.Hour
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def, min, max int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func envFloat(key string, def, min, max float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func envSeconds(key string, def, min, max int) time.Duration {
	return time.Duration(envInt(key, def, min, max)) * time.Second
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}
