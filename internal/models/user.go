package models

import (
	"time"

	"gorm.io/datatypes"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleAdmin     MessageRole = "admin"
)

// User is a messaging-platform account that has written to the store.
type User struct {
	ID         string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ExternalID string `gorm:"column:external_id;type:text;uniqueIndex" json:"external_id"`
	Username   string `gorm:"column:username;type:text" json:"username"`

	FollowStatus  string `gorm:"column:follow_status;type:text" json:"follow_status"` // "is_follower=true,is_following=false"
	FollowerCount *int64 `gorm:"column:follower_count" json:"follower_count,omitempty"`

	IsVIP          bool `gorm:"column:is_vip;not null;default:false" json:"is_vip"`
	VIPScore       int  `gorm:"column:vip_score;not null;default:0" json:"vip_score"`
	FollowupOptOut bool `gorm:"column:followup_opt_out;not null;default:false" json:"followup_opt_out"`

	Profile datatypes.JSONType[UserProfile] `gorm:"column:profile_json;type:jsonb;not null;default:'{}'" json:"profile"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (User) TableName() string { return "users" }
