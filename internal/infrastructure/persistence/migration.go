package persistence

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/feedbridge/backend/internal/infrastructure/persistence/models"
)

// AutoMigrate creates or updates the schema for all persistence models
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.CatalogModelRow{},
		&models.VariantRow{},
		&models.SalesChannelRow{},
		&models.OutboxRecordRow{},
	); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}
