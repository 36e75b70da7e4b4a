package repository

import (
	"fmt"

	"gorm.io/gorm"

	"ranktrack/internal/models"
)

// TargetRepository handles tracking-target database operations.
type TargetRepository struct {
	db *gorm.DB
}

func NewTargetRepository(db *gorm.DB) *TargetRepository {
	return &TargetRepository{db: db}
}

// Create inserts a target. ProductID uniqueness is enforced by the index.
func (r *TargetRepository) Create(target *models.TrackingTarget) error {
	if target.ProductID == "" {
		return fmt.Errorf("target product id is empty")
	}
	return r.db.Create(target).Error
}

// FindAll returns targets with pagination and optional text search over
// name, mall and product id.
func (r *TargetRepository) FindAll(limit, page int, query string) ([]models.TrackingTarget, int64, error) {
	var targets []models.TrackingTarget
	var total int64

	db := r.db.Model(&models.TrackingTarget{})
	if query != "" {
		search := "%" + query + "%"
		db = db.Where("name LIKE ? OR mall_name LIKE ? OR product_id LIKE ?", search, search, search)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	if err := db.Order("id").Limit(limit).Offset(offset).Find(&targets).Error; err != nil {
		return nil, 0, err
	}
	return targets, total, nil
}

// FindByID returns a target by ID.
func (r *TargetRepository) FindByID(id uint) (*models.TrackingTarget, error) {
	var target models.TrackingTarget
	if err := r.db.Where("id = ?", id).First(&target).Error; err != nil {
		return nil, err
	}
	return &target, nil
}

// FindByProductID returns a target by its external product id.
func (r *TargetRepository) FindByProductID(productID string) (*models.TrackingTarget, error) {
	var target models.TrackingTarget
	if err := r.db.Where("product_id = ?", productID).First(&target).Error; err != nil {
		return nil, err
	}
	return &target, nil
}

// Update updates target metadata fields.
func (r *TargetRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.TrackingTarget{}).Where("id = ?", id).Updates(updates).Error
}

// SetActive toggles a target's activation flag; targets are soft-deactivated
// rather than deleted.
func (r *TargetRepository) SetActive(id uint, active bool) error {
	return r.db.Model(&models.TrackingTarget{}).Where("id = ?", id).
		Update("is_active", active).Error
}

// SetEffectiveID persists the identifier confirmed inside search result
// pages, so later scans skip first-page resolution.
func (r *TargetRepository) SetEffectiveID(id uint, effectiveID string) error {
	return r.db.Model(&models.TrackingTarget{}).Where("id = ?", id).
		Update("effective_id", effectiveID).Error
}
