// Package db opens the backing store and manages its schema.
package db

import (
	"fmt"

	"github.com/zulandar/darkroom/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model, in creation order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Task{},
		&models.Conversation{},
		&models.ConversationMessage{},
		&models.SyncLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DropAll drops every table, children first.
func DropAll(db *gorm.DB) error {
	all := AllModels()
	for i := len(all) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(all[i]); err != nil {
			return fmt.Errorf("db: drop %T: %w", all[i], err)
		}
	}
	return nil
}
