package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	runrepo "github.com/yungbote/promptbridge-backend/internal/data/repos/prompts"
	"github.com/yungbote/promptbridge-backend/internal/http/response"
	"github.com/yungbote/promptbridge-backend/internal/pkg/dbctx"
)

type PipelineRunHandler struct {
	runs runrepo.PipelineRunRepo
}

func NewPipelineRunHandler(runs runrepo.PipelineRunRepo) *PipelineRunHandler {
	return &PipelineRunHandler{runs: runs}
}

// GET /api/pipeline-runs/:id
func (h *PipelineRunHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	run, err := h.runs.GetByID(dbctx.Context{Ctx: c.Request.Context()}, runID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_run_failed", err)
		return
	}
	if run == nil {
		response.RespondError(c, http.StatusNotFound, "run_not_found", errors.New("pipeline run not found"))
		return
	}
	response.RespondOK(c, gin.H{"run": run})
}

// GET /api/api-requests/:id/pipeline-runs?limit=
func (h *PipelineRunHandler) ListRunsForAPIRequest(c *gin.Context) {
	apiRequestID := strings.TrimSpace(c.Param("id"))
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := h.runs.ListByAPIRequest(dbctx.Context{Ctx: c.Request.Context()}, apiRequestID, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_runs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}
