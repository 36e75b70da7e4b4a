package models

import "time"

// TrackingTarget maps to the `tracking_targets` table: a product being
// watched, identified by the external product id.
//
// EffectiveID caches the identifier the search index actually exposes for
// this product, which may differ from the id embedded in the product's own
// URL. Empty means not yet confirmed by a scan.
type TrackingTarget struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProductID   string    `gorm:"column:product_id;size:64;uniqueIndex:idx_targets_product_id" json:"product_id"`
	EffectiveID string    `gorm:"column:effective_id;size:64" json:"effective_id,omitempty"`
	Name        string    `gorm:"column:name;size:500" json:"name"`
	MallName    string    `gorm:"column:mall_name;size:255" json:"mall_name"`
	Brand       string    `gorm:"column:brand;size:255" json:"brand"`
	Category    string    `gorm:"column:category;size:255" json:"category"`
	IsActive    bool      `gorm:"column:is_active;default:true;index" json:"is_active"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (TrackingTarget) TableName() string {
	return "tracking_targets"
}

// KeywordTarget maps to the `keyword_targets` join table. The relation is
// independently activatable so a target can be excluded from a keyword's
// schedule without losing history.
type KeywordTarget struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	KeywordID uint      `gorm:"column:keyword_id;index:idx_keyword_targets_keyword;uniqueIndex:idx_keyword_targets_pair,priority:1" json:"keyword_id"`
	TargetID  uint      `gorm:"column:target_id;index:idx_keyword_targets_target;uniqueIndex:idx_keyword_targets_pair,priority:2" json:"target_id"`
	IsActive  bool      `gorm:"column:is_active;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (KeywordTarget) TableName() string {
	return "keyword_targets"
}
