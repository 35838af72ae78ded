package models

import "time"

type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation is the DM thread between the store and one user.
type Conversation struct {
	ID     string             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID string             `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Status ConversationStatus `gorm:"column:status;type:text;index;not null;default:'open'" json:"status"`

	// Together these define the delivery window and abandonment.
	LastUserMessageAt *time.Time `gorm:"column:last_user_message_at;type:timestamptz" json:"last_user_message_at,omitempty"`
	LastBotMessageAt  *time.Time `gorm:"column:last_bot_message_at;type:timestamptz" json:"last_bot_message_at,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// WithinWindow reports whether a business-initiated send is still allowed.
func (c *Conversation) WithinWindow(now time.Time, window time.Duration) bool {
	if c == nil || c.LastUserMessageAt == nil {
		return false
	}
	return now.Sub(*c.LastUserMessageAt) <= window
}
