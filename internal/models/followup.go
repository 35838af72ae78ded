package models

import "time"

type FollowupStatus string

const (
	FollowupScheduled FollowupStatus = "scheduled"
	FollowupSent      FollowupStatus = "sent"
	FollowupSkipped   FollowupStatus = "skipped"
	FollowupFailed    FollowupStatus = "failed"
	FollowupCancelled FollowupStatus = "cancelled"
)

type FollowupTask struct {
	ID             string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         string         `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;index" json:"conversation_id"`
	Status         FollowupStatus `gorm:"column:status;type:text;index:idx_followups_due,priority:1;not null" json:"status"`
	ScheduledFor   time.Time      `gorm:"column:scheduled_for;type:timestamptz;index:idx_followups_due,priority:2" json:"scheduled_for"`
	SentAt         *time.Time     `gorm:"column:sent_at;type:timestamptz" json:"sent_at,omitempty"`
	Reason         string         `gorm:"column:reason;type:text" json:"reason"`
	Payload        string         `gorm:"column:payload;type:text" json:"payload"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (FollowupTask) TableName() string { return "followup_tasks" }
