package models

import (
	"strings"
	"time"
)

// Keyword maps to the `keywords` table. A keyword is a search query tracked
// over time; it is deactivated rather than deleted so historical
// observations stay valid.
type Keyword struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Query     string    `gorm:"column:query;size:255;uniqueIndex:idx_keywords_query" json:"query"`
	IsActive  bool      `gorm:"column:is_active;default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Targets []TrackingTarget `gorm:"many2many:keyword_targets;joinForeignKey:KeywordID;joinReferences:TargetID" json:"targets,omitempty"`
}

func (Keyword) TableName() string {
	return "keywords"
}

// NormalizeQuery canonicalizes a search query for the uniqueness check:
// trimmed, lower-cased, inner whitespace collapsed to single spaces.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
