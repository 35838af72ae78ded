package models

import (
	"time"

	"gorm.io/datatypes"
)

type MessageType string

const (
	MessageText            MessageType = "text"
	MessageMedia           MessageType = "media"
	MessageAudio           MessageType = "audio"
	MessageRead            MessageType = "read"
	MessageButton          MessageType = "button"
	MessageQuickReply      MessageType = "quick_reply"
	MessageGenericTemplate MessageType = "generic_template"
	MessagePhoto           MessageType = "photo"
	MessageVideo           MessageType = "video"
)

// Message is append-only.
type Message struct {
	ID             string      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string      `gorm:"column:conversation_id;type:uuid;index:idx_messages_conv_created,priority:1" json:"conversation_id"`
	Role           MessageRole `gorm:"column:role;type:text;not null" json:"role"`
	Type           MessageType `gorm:"column:type;type:text;not null" json:"type"`
	ExternalID     string      `gorm:"column:external_id;type:text;index" json:"external_id,omitempty"`

	ContentText string            `gorm:"column:content_text;type:text" json:"content_text"`
	MediaURL    string            `gorm:"column:media_url;type:text" json:"media_url,omitempty"`
	Payload     datatypes.JSONMap `gorm:"column:payload_json;type:jsonb" json:"payload,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;index:idx_messages_conv_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
