package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"ranktrack/internal/models"
)

// Migrate ensures the rank-tracking schema exists.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.Keyword{},
		&models.TrackingTarget{},
		&models.KeywordTarget{},
		&models.Observation{},
	}
}
