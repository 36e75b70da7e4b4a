package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ranktrack/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Keyword{},
		&models.TrackingTarget{},
		&models.KeywordTarget{},
		&models.Observation{},
	); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func mustCreateKeyword(t *testing.T, db *gorm.DB, query string) *models.Keyword {
	t.Helper()
	keyword := &models.Keyword{Query: query, IsActive: true}
	if err := NewKeywordRepository(db).Create(keyword); err != nil {
		t.Fatalf("create keyword %q: %v", query, err)
	}
	return keyword
}

func mustCreateTarget(t *testing.T, db *gorm.DB, productID string) *models.TrackingTarget {
	t.Helper()
	target := &models.TrackingTarget{ProductID: productID, IsActive: true}
	if err := NewTargetRepository(db).Create(target); err != nil {
		t.Fatalf("create target %q: %v", productID, err)
	}
	return target
}
