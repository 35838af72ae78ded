package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// State intents.
const (
	StateIntentStoreInfo       = "store_info"
	StateIntentProductSearch   = "product_search"
	StateIntentProductSelected = "product_selected"
	StateIntentSupport         = "support"
	StateIntentOrderFlow       = "order_flow"
	StateIntentUnknown         = "unknown"
)

// SelectedProduct is a denormalized snapshot of the product the user picked.
type SelectedProduct struct {
	ID       string `json:"id,omitempty"`
	Slug     string `json:"slug,omitempty"`
	Title    string `json:"title,omitempty"`
	PageURL  string `json:"page_url,omitempty"`
	Price    *int64 `json:"price,omitempty"`
	OldPrice *int64 `json:"old_price,omitempty"`
}

func (s SelectedProduct) Empty() bool { return s.ID == "" }

func SelectedFromProduct(p *Product) SelectedProduct {
	if p == nil {
		return SelectedProduct{}
	}
	return SelectedProduct{
		ID:       p.ID,
		Slug:     p.Slug,
		Title:    p.Title,
		PageURL:  p.PageURL,
		Price:    p.Price,
		OldPrice: p.OldPrice,
	}
}

// ConversationState is the running slot-filling record of a conversation.
type ConversationState struct {
	ConversationID string `gorm:"column:conversation_id;type:uuid;primaryKey" json:"conversation_id"`

	Intent        string            `gorm:"column:intent;type:text" json:"intent"`
	Category      string            `gorm:"column:category;type:text" json:"category"`
	SlotsRequired pq.StringArray    `gorm:"column:slots_required;type:text[]" json:"slots_required"`
	SlotsFilled   datatypes.JSONMap `gorm:"column:slots_filled;type:jsonb" json:"slots_filled"`

	LastUserQuestion  string `gorm:"column:last_user_question;type:text" json:"last_user_question"`
	LastUserMessageID string `gorm:"column:last_user_message_id;type:text" json:"last_user_message_id"`
	LastBotAction     string `gorm:"column:last_bot_action;type:text" json:"last_bot_action"`
	LastHandlerUsed   string `gorm:"column:last_handler_used;type:text" json:"last_handler_used"`

	LastBotAnswers  datatypes.JSONType[map[string]string] `gorm:"column:last_bot_answer_by_intent;type:jsonb;not null;default:'{}'" json:"last_bot_answer_by_intent"`
	SelectedProduct datatypes.JSONType[SelectedProduct]   `gorm:"column:selected_product;type:jsonb;not null;default:'{}'" json:"selected_product"`

	// LastRawAnswer is the last answer before any rewrite; the loop
	// counter compares against it.
	LastRawAnswer string    `gorm:"column:last_raw_answer;type:text" json:"last_raw_answer"`
	LoopCounter   int       `gorm:"column:loop_counter;not null;default:0" json:"loop_counter"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (ConversationState) TableName() string { return "conversation_states" }

// Answers returns a copy of the per-intent answer cache, never nil.
func (s *ConversationState) Answers() map[string]string {
	out := map[string]string{}
	for k, v := range s.LastBotAnswers.Data() {
		out[k] = v
	}
	return out
}

func (s *ConversationState) Selected() SelectedProduct { return s.SelectedProduct.Data() }
