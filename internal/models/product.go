package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type Availability string

const (
	InStock             Availability = "instock"
	OutOfStock          Availability = "outofstock"
	AvailabilityUnknown Availability = "unknown"
)

// Product is owned by the catalog sync; the bot only reads it.
type Product struct {
	ID          string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProductID   string `gorm:"column:product_id;type:text;uniqueIndex" json:"product_id"` // id in the storefront
	Slug        string `gorm:"column:slug;type:text;index" json:"slug"`
	Title       string `gorm:"column:title;type:text" json:"title"`
	Description string `gorm:"column:description;type:text" json:"description"`

	Images       pq.StringArray `gorm:"column:images;type:text[]" json:"images"`
	Price        *int64         `gorm:"column:price" json:"price,omitempty"`
	OldPrice     *int64         `gorm:"column:old_price" json:"old_price,omitempty"`
	Availability Availability   `gorm:"column:availability;type:text;not null;default:'unknown'" json:"availability"`
	PageURL      string         `gorm:"column:page_url;type:text" json:"page_url"`

	SourceFlags datatypes.JSONMap `gorm:"column:source_flags;type:jsonb" json:"source_flags,omitempty"`

	// filled by the catalog sync; null until then
	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;index" json:"updated_at"`
}

func (Product) TableName() string { return "products" }

func (p *Product) FirstImage() string {
	for _, img := range p.Images {
		if img != "" {
			return img
		}
	}
	return ""
}

// ProductMatch is a catalog hit with its lexical score.
type ProductMatch struct {
	Product       Product  `json:"product"`
	Score         int      `json:"score"`
	TokenCount    int      `json:"token_count"`
	MatchedTokens []string `json:"matched_tokens"`
}
