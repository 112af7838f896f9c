// Package db opens gorm connections for the local thread store.
package db

import (
	"fmt"

	"github.com/zulandar/labdesk/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model labdesk migrates.
func AllModels() []interface{} {
	return []interface{}{
		&models.KVEntry{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
