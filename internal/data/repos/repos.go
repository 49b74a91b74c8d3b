package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/promptbridge-backend/internal/data/repos/prompts"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

type PipelineRunRepo = prompts.PipelineRunRepo

// Repos is nil-valued when no database is configured.
type Repos struct {
	PipelineRuns PipelineRunRepo
}

func New(db *gorm.DB, log *logger.Logger) Repos {
	if db == nil {
		return Repos{}
	}
	return Repos{
		PipelineRuns: prompts.NewPipelineRunRepo(db, log),
	}
}
