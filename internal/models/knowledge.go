package models

import (
	"time"

	"github.com/lib/pq"
)

// Faq is an admin-verified question and answer.
type Faq struct {
	ID        string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Question  string         `gorm:"column:question;type:text" json:"question"`
	Answer    string         `gorm:"column:answer;type:text" json:"answer"`
	Tags      pq.StringArray `gorm:"column:tags;type:text[]" json:"tags"`
	Verified  bool           `gorm:"column:verified;not null;default:false" json:"verified"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Faq) TableName() string { return "faqs" }

type Campaign struct {
	ID           string     `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Title        string     `gorm:"column:title;type:text" json:"title"`
	Body         string     `gorm:"column:body;type:text" json:"body"`
	DiscountCode string     `gorm:"column:discount_code;type:text" json:"discount_code"`
	Link         string     `gorm:"column:link;type:text" json:"link"`
	StartsAt     *time.Time `gorm:"column:starts_at;type:timestamptz" json:"starts_at,omitempty"`
	EndsAt       *time.Time `gorm:"column:ends_at;type:timestamptz" json:"ends_at,omitempty"`
	Priority     int        `gorm:"column:priority;not null;default:0" json:"priority"`
	Active       bool       `gorm:"column:active;not null;default:true" json:"active"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Campaign) TableName() string { return "campaigns" }

// BotSettings is the admin-edited runtime override row. Zero values mean
// "use the environment default".
type BotSettings struct {
	ID                 string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Active             bool      `gorm:"column:active;index" json:"active"`
	AIMode             string    `gorm:"column:ai_mode;type:text" json:"ai_mode"` // openai|deepseek|gemini|hybrid
	SystemPrompt       string    `gorm:"column:system_prompt;type:text" json:"system_prompt"`
	FallbackText       string    `gorm:"column:fallback_text;type:text" json:"fallback_text"`
	MaxOutputChars     int       `gorm:"column:max_output_chars" json:"max_output_chars"`
	MaxHistoryMessages int       `gorm:"column:max_history_messages" json:"max_history_messages"`
	FollowupEnabled    *bool     `gorm:"column:followup_enabled" json:"followup_enabled,omitempty"`
	FollowupDelayHours int       `gorm:"column:followup_delay_hours" json:"followup_delay_hours"`
	FollowupMessage    string    `gorm:"column:followup_message;type:text" json:"followup_message"`
	AdminNotes         string    `gorm:"column:admin_notes;type:text" json:"admin_notes"`
	UpdatedAt          time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (BotSettings) TableName() string { return "bot_settings" }
