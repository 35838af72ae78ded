package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event types written to the event log.
const (
	EventPatternDetected   = "pattern_detected"
	EventAssistantResponse = "assistant_response"
	EventWindowExpired     = "window_expired"
	EventSendError         = "send_error"
	EventLoopEscalated     = "loop_escalated_to_operator"
	EventGuardrailRewrite  = "guardrail_rewrite"
	EventProviderFallback  = "provider_fallback"
	EventVIPPromoted       = "vip_promoted"
	EventTicketCreated     = "ticket_created"
	EventProductMatched    = "product_matched"
)

// Event is an operational log entry kept in MongoDB until ExpiresAt.
type Event struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Type           string             `bson:"event_type" json:"event_type"`
	Level          string             `bson:"level" json:"level"` // info|warning|error
	ConversationID string             `bson:"conversation_id,omitempty" json:"conversation_id,omitempty"`
	UserID         string             `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Data           map[string]any     `bson:"data,omitempty" json:"data,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // TTL index
}
