package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"ranktrack/internal/models"
)

// KeywordRepository handles keyword and keyword-target relation operations.
type KeywordRepository struct {
	db *gorm.DB
}

func NewKeywordRepository(db *gorm.DB) *KeywordRepository {
	return &KeywordRepository{db: db}
}

// Create inserts a keyword, normalizing the query text first. Duplicate
// normalized queries are rejected by the unique index.
func (r *KeywordRepository) Create(keyword *models.Keyword) error {
	keyword.Query = models.NormalizeQuery(keyword.Query)
	if keyword.Query == "" {
		return fmt.Errorf("keyword query is empty")
	}
	return r.db.Create(keyword).Error
}

// FindAll returns keywords with pagination and optional text search.
func (r *KeywordRepository) FindAll(limit, page int, query string) ([]models.Keyword, int64, error) {
	var keywords []models.Keyword
	var total int64

	db := r.db.Model(&models.Keyword{})
	if query != "" {
		db = db.Where("query LIKE ?", "%"+models.NormalizeQuery(query)+"%")
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

	if err := db.Order("id").Limit(limit).Offset(offset).Find(&keywords).Error; err != nil {
		return nil, 0, err
	}
	return keywords, total, nil
}

// FindByID returns a keyword by ID.
func (r *KeywordRepository) FindByID(id uint) (*models.Keyword, error) {
	var keyword models.Keyword
	if err := r.db.Where("id = ?", id).First(&keyword).Error; err != nil {
		return nil, err
	}
	return &keyword, nil
}

// FindByQuery returns a keyword by its normalized query text.
func (r *KeywordRepository) FindByQuery(query string) (*models.Keyword, error) {
	var keyword models.Keyword
	if err := r.db.Where("query = ?", models.NormalizeQuery(query)).First(&keyword).Error; err != nil {
		return nil, err
	}
	return &keyword, nil
}

// SetActive toggles a keyword's activation flag. Keywords are never hard
// deleted so historical observations stay resolvable.
func (r *KeywordRepository) SetActive(id uint, active bool) error {
	return r.db.Model(&models.Keyword{}).Where("id = ?", id).
		Update("is_active", active).Error
}

// Link creates (or re-activates) the relation between a keyword and a
// target. A new relation may not reference a deactivated keyword or target;
// an existing relation is only flipped back to active under the same check.
func (r *KeywordRepository) Link(keywordID, targetID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var keyword models.Keyword
		if err := tx.Where("id = ?", keywordID).First(&keyword).Error; err != nil {
			return fmt.Errorf("keyword %d: %w", keywordID, err)
		}
		var target models.TrackingTarget
		if err := tx.Where("id = ?", targetID).First(&target).Error; err != nil {
			return fmt.Errorf("target %d: %w", targetID, err)
		}
		if !keyword.IsActive || !target.IsActive {
			return fmt.Errorf("cannot link deactivated keyword or target")
		}

		var relation models.KeywordTarget
		err := tx.Where("keyword_id = ? AND target_id = ?", keywordID, targetID).
			First(&relation).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.KeywordTarget{
				KeywordID: keywordID,
				TargetID:  targetID,
				IsActive:  true,
			}).Error
		case err != nil:
			return err
		default:
			return tx.Model(&relation).Update("is_active", true).Error
		}
	})
}

// SetRelationActive toggles an existing relation without touching either
// side or its history.
func (r *KeywordRepository) SetRelationActive(keywordID, targetID uint, active bool) error {
	result := r.db.Model(&models.KeywordTarget{}).
		Where("keyword_id = ? AND target_id = ?", keywordID, targetID).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LinkedTargets returns the active targets linked to a keyword through an
// active relation.
func (r *KeywordRepository) LinkedTargets(keywordID uint) ([]models.TrackingTarget, error) {
	var targets []models.TrackingTarget
	err := r.db.
		Joins("JOIN keyword_targets kt ON kt.target_id = tracking_targets.id").
		Where("kt.keyword_id = ? AND kt.is_active = ? AND tracking_targets.is_active = ?",
			keywordID, true, true).
		Order("tracking_targets.id").
		Find(&targets).Error
	return targets, err
}

// ScheduleEntry is one active keyword with its actively linked targets.
type ScheduleEntry struct {
	Keyword models.Keyword
	Targets []models.TrackingTarget
}

// ActiveSchedule assembles the scan schedule: every active keyword together
// with its active targets linked through an active relation.
func (r *KeywordRepository) ActiveSchedule() ([]ScheduleEntry, error) {
	var keywords []models.Keyword
	if err := r.db.Where("is_active = ?", true).Order("id").Find(&keywords).Error; err != nil {
		return nil, err
	}

	entries := make([]ScheduleEntry, 0, len(keywords))
	for _, keyword := range keywords {
		targets, err := r.LinkedTargets(keyword.ID)
		if err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			continue
		}
		entries = append(entries, ScheduleEntry{Keyword: keyword, Targets: targets})
	}
	return entries, nil
}
