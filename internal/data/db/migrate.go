package db

import (
	"fmt"

	"gorm.io/gorm"

	domain "github.com/yungbote/promptbridge-backend/internal/domain/prompts"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.PipelineRun{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
