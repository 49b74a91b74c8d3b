package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "github.com/yungbote/promptbridge-backend/internal/domain/prompts"
)

// SeedPipelineRun inserts a completed run for apiRequestID created at the given time.
func SeedPipelineRun(tb testing.TB, ctx context.Context, tx *gorm.DB, apiRequestID string, createdAt time.Time) *domain.PipelineRun {
	tb.Helper()
	run := &domain.PipelineRun{
		ID:                   uuid.New(),
		APIRequestID:         apiRequestID,
		Environment:          "production",
		Mode:                 string(domain.ModeCreate),
		Outcome:              string(domain.OutcomeCompleted),
		Status:               string(domain.StatusCompleted),
		Success:              true,
		TotalAttributes:      1,
		ResolvedCount:        1,
		GeneratedPromptCount: 1,
		APIRequestUpdated:    true,
		GeneratedPromptIDs:   datatypes.JSON([]byte(`["gp-1"]`)),
		Errors:               datatypes.JSON([]byte("[]")),
		CreatedAt:            createdAt,
	}
	if err := tx.WithContext(ctx).Create(run).Error; err != nil {
		tb.Fatalf("seed pipeline run: %v", err)
	}
	return run
}
