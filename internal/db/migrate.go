package db

import (
	"fmt"

	"github.com/zulandar/courier/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model Courier persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.BotRegistration{},
		&models.EventRecord{},
		&models.ProcessedEvent{},
		&models.ConversationSession{},
		&models.SessionLock{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
