package prompts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// PipelineRun is the local ledger row written after every pipeline invocation.
type PipelineRun struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	APIRequestID         string         `gorm:"column:api_request_id;not null;index" json:"api_request_id"`
	Environment          string         `gorm:"column:environment;not null" json:"environment"`
	Mode                 string         `gorm:"column:mode;not null" json:"mode"`
	Outcome              string         `gorm:"column:outcome;not null;index" json:"outcome"`
	Status               string         `gorm:"column:status" json:"status,omitempty"`
	Success              bool           `gorm:"column:success;not null" json:"success"`
	TotalAttributes      int            `gorm:"column:total_attributes;not null;default:0" json:"total_attributes"`
	ResolvedCount        int            `gorm:"column:resolved_count;not null;default:0" json:"resolved_count"`
	SkippedCount         int            `gorm:"column:skipped_count;not null;default:0" json:"skipped_count"`
	GeneratedPromptCount int            `gorm:"column:generated_prompt_count;not null;default:0" json:"generated_prompt_count"`
	FailedCount          int            `gorm:"column:failed_count;not null;default:0" json:"failed_count"`
	APIRequestUpdated    bool           `gorm:"column:api_request_updated;not null" json:"api_request_updated"`
	GeneratedPromptIDs   datatypes.JSON `gorm:"column:generated_prompt_ids" json:"generated_prompt_ids"`
	Errors               datatypes.JSON `gorm:"column:errors" json:"errors"`
	DurationMS           int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	CreatedAt            time.Time      `gorm:"not null;index" json:"created_at"`
}

func (PipelineRun) TableName() string { return "pipeline_run" }
