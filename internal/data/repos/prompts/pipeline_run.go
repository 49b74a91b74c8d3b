package prompts

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/yungbote/promptbridge-backend/internal/domain/prompts"
	"github.com/yungbote/promptbridge-backend/internal/pkg/dbctx"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

const defaultListLimit = 50

type PipelineRunRepo interface {
	Create(dbc dbctx.Context, run *domain.PipelineRun) (*domain.PipelineRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.PipelineRun, error)
	ListByAPIRequest(dbc dbctx.Context, apiRequestID string, limit int) ([]*domain.PipelineRun, error)
}

type pipelineRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPipelineRunRepo(db *gorm.DB, baseLog *logger.Logger) PipelineRunRepo {
	return &pipelineRunRepo{
		db:  db,
		log: baseLog.With("repo", "PipelineRunRepo"),
	}
}

func (r *pipelineRunRepo) Create(dbc dbctx.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	if run == nil {
		return nil, errors.New("pipeline run required")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := dbc.DB(r.db).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// GetByID returns nil, nil when no row matches.
func (r *pipelineRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var run domain.PipelineRun
	err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListByAPIRequest returns the newest runs first.
func (r *pipelineRunRepo) ListByAPIRequest(dbc dbctx.Context, apiRequestID string, limit int) ([]*domain.PipelineRun, error) {
	out := []*domain.PipelineRun{}
	apiRequestID = strings.TrimSpace(apiRequestID)
	if apiRequestID == "" {
		return out, nil
	}
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	if err := dbc.DB(r.db).
		Where("api_request_id = ?", apiRequestID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
