package models

import (
	"time"

	"gorm.io/datatypes"
)

// PatternHit is one entry of a behavior profile's rolling history.
type PatternHit struct {
	Pattern    string    `json:"pattern"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
	Keywords   []string  `json:"keywords,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BehaviorProfile is the latest detected behavior of a user plus a capped
// history; the oldest entries drop first.
type BehaviorProfile struct {
	UserID      string     `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	LastPattern string     `gorm:"column:last_pattern;type:text" json:"last_pattern"`
	Confidence  float64    `gorm:"column:confidence" json:"confidence"`
	LastSeenAt  *time.Time `gorm:"column:last_seen_at;type:timestamptz" json:"last_seen_at,omitempty"`

	History  datatypes.JSONType[[]PatternHit] `gorm:"column:pattern_history;type:jsonb;not null;default:'[]'" json:"pattern_history"`
	Snapshot datatypes.JSONMap                `gorm:"column:snapshot;type:jsonb" json:"snapshot,omitempty"`

	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (BehaviorProfile) TableName() string { return "user_behavior_profiles" }

// AppendHit adds h and keeps at most limit entries.
func (b *BehaviorProfile) AppendHit(h PatternHit, limit int) {
	hist := append([]PatternHit{}, b.History.Data()...)
	hist = append(hist, h)
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	b.History = datatypes.NewJSONType(hist)
	b.LastPattern = h.Pattern
	b.Confidence = h.Confidence
	seen := h.CreatedAt
	b.LastSeenAt = &seen
}
