package models

import "time"

type TicketStatus string

const (
	TicketOpen    TicketStatus = "open"
	TicketPending TicketStatus = "pending"
	TicketClosed  TicketStatus = "closed"
)

type SupportTicket struct {
	ID             string       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         string       `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	ConversationID string       `gorm:"column:conversation_id;type:uuid;index" json:"conversation_id"`
	Status         TicketStatus `gorm:"column:status;type:text;index;not null" json:"status"`
	Summary        string       `gorm:"column:summary;type:text" json:"summary"`
	LastMessage    string       `gorm:"column:last_message;type:text" json:"last_message"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (SupportTicket) TableName() string { return "support_tickets" }
