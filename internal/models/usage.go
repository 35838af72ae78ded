package models

import "time"

// Usage is one successful model call's token accounting.
type Usage struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Date      time.Time `gorm:"column:date;type:date;index" json:"date"`
	Provider  string    `gorm:"column:provider;type:text;index" json:"provider"`
	TokensIn  int       `gorm:"column:tokens_in" json:"tokens_in"`
	TokensOut int       `gorm:"column:tokens_out" json:"tokens_out"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (Usage) TableName() string { return "usage" }
