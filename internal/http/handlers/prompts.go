package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domain "github.com/yungbote/promptbridge-backend/internal/domain/prompts"
	"github.com/yungbote/promptbridge-backend/internal/http/response"
	"github.com/yungbote/promptbridge-backend/internal/modules/prompts"
	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

type PromptHandlerDeps struct {
	Log      *logger.Logger
	Config   bubble.Config
	Pipeline *prompts.Pipeline
	Resolver *prompts.Resolver
	Merger   *prompts.ListMerger
}

type PromptHandler struct {
	log      *logger.Logger
	cfg      bubble.Config
	pipeline *prompts.Pipeline
	resolver *prompts.Resolver
	merger   *prompts.ListMerger
}

func NewPromptHandlerWithDeps(deps PromptHandlerDeps) *PromptHandler {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &PromptHandler{
		log:      log.With("handler", "PromptHandler"),
		cfg:      deps.Config.Normalize(),
		pipeline: deps.Pipeline,
		resolver: deps.Resolver,
		merger:   deps.Merger,
	}
}

type attributesRequest struct {
	Attributes   []domain.AttributeValue `json:"attributes"`
	Environment  string                  `json:"environment"`
	APIRequestID string                  `json:"api_request_id"`
}

// POST /api/prompt-fields/batch
func (h *PromptHandler) ResolveFields(c *gin.Context) {
	req, env, ok := h.bindAttributes(c, false)
	if !ok {
		return
	}
	res, err := h.pipeline.ResolveFields(c.Request.Context(), env, req.Attributes)
	if err != nil {
		response.RespondAPIError(c, storeError(err))
		return
	}
	response.RespondOK(c, res)
}

// GET /api/prompt-fields/lookup?name=&environment=
func (h *PromptHandler) LookupField(c *gin.Context) {
	name := c.Query("name")
	if strings.TrimSpace(name) == "" {
		response.RespondError(c, http.StatusBadRequest, "name_required", errors.New("name query parameter is required"))
		return
	}
	env, err := bubble.ParseEnvironment(c.Query("environment"), h.cfg.DefaultEnvironment)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_environment", err)
		return
	}
	id, found, err := h.resolver.ResolveOnly(c.Request.Context(), env, name)
	if err != nil {
		response.RespondAPIError(c, storeError(err))
		return
	}
	response.RespondOK(c, gin.H{
		"name":            name,
		"environment":     env,
		"found":           found,
		"prompt_field_id": id,
	})
}

// POST /api/generated-prompts/batch
func (h *PromptHandler) CreateGeneratedPrompts(c *gin.Context) {
	h.runPipeline(c, domain.ModeCreate)
}

// POST /api/generated-prompts/batch-existing
func (h *PromptHandler) CreateGeneratedPromptsForExisting(c *gin.Context) {
	h.runPipeline(c, domain.ModeLookupOnly)
}

type linkRequest struct {
	GeneratedPromptID string `json:"generated_prompt_id"`
	Environment       string `json:"environment"`
}

// POST /api/api-requests/:id/generated-prompts
func (h *PromptHandler) LinkGeneratedPrompt(c *gin.Context) {
	apiRequestID := strings.TrimSpace(c.Param("id"))
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.GeneratedPromptID) == "" {
		response.RespondError(c, http.StatusBadRequest, "generated_prompt_id_required", errors.New("generated_prompt_id is required"))
		return
	}
	env, err := bubble.ParseEnvironment(req.Environment, h.cfg.DefaultEnvironment)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_environment", err)
		return
	}
	res, err := h.merger.AppendUnique(
		c.Request.Context(),
		env,
		h.cfg.Collections.APIRequest,
		apiRequestID,
		h.cfg.Fields.APIRequestPrompts,
		strings.TrimSpace(req.GeneratedPromptID),
	)
	if err != nil {
		response.RespondAPIError(c, storeError(err))
		return
	}
	response.RespondOK(c, gin.H{
		"api_request_id":       apiRequestID,
		"changed":              res.Changed,
		"generated_prompt_ids": res.List,
	})
}

func (h *PromptHandler) runPipeline(c *gin.Context, mode domain.Mode) {
	req, env, ok := h.bindAttributes(c, true)
	if !ok {
		return
	}
	res, err := h.pipeline.Run(c.Request.Context(), prompts.Request{
		Environment:  env,
		APIRequestID: strings.TrimSpace(req.APIRequestID),
		Attributes:   req.Attributes,
		Mode:         mode,
	})
	if err != nil {
		h.log.Warn("pipeline failed", "api_request_id", req.APIRequestID, "mode", mode, "error", err)
		response.RespondAPIError(c, storeError(err))
		return
	}
	response.RespondOK(c, res)
}

func (h *PromptHandler) bindAttributes(c *gin.Context, needAPIRequest bool) (attributesRequest, bubble.Environment, bool) {
	var req attributesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return req, "", false
	}
	if len(req.Attributes) == 0 {
		response.RespondError(c, http.StatusBadRequest, "attributes_required", errors.New("attributes must not be empty"))
		return req, "", false
	}
	if needAPIRequest && strings.TrimSpace(req.APIRequestID) == "" {
		response.RespondError(c, http.StatusBadRequest, "api_request_id_required", errors.New("api_request_id is required"))
		return req, "", false
	}
	env, err := bubble.ParseEnvironment(req.Environment, h.cfg.DefaultEnvironment)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_environment", err)
		return req, "", false
	}
	return req, env, true
}
