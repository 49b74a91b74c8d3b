package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/promptbridge-backend/internal/http/handlers"
	httpMW "github.com/yungbote/promptbridge-backend/internal/http/middleware"
	"github.com/yungbote/promptbridge-backend/internal/observability"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	APIKey         string
	AllowedOrigins []string

	PromptHandler      *httpH.PromptHandler
	PipelineRunHandler *httpH.PipelineRunHandler
	HealthHandler      *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "promptbridge"
	}

	r := gin.New()
	r.Use(httpMW.Recover(cfg.Log))
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, "/metrics", "/healthcheck"))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(httpMW.RequireAPIKey(cfg.Log, cfg.APIKey))
	{
		if cfg.PromptHandler != nil {
			api.POST("/prompt-fields/batch", cfg.PromptHandler.ResolveFields)
			api.GET("/prompt-fields/lookup", cfg.PromptHandler.LookupField)
			api.POST("/generated-prompts/batch", cfg.PromptHandler.CreateGeneratedPrompts)
			api.POST("/generated-prompts/batch-existing", cfg.PromptHandler.CreateGeneratedPromptsForExisting)
			api.POST("/api-requests/:id/generated-prompts", cfg.PromptHandler.LinkGeneratedPrompt)
		}

		// Run ledger (only when a database is configured)
		if cfg.PipelineRunHandler != nil {
			api.GET("/pipeline-runs/:id", cfg.PipelineRunHandler.GetRun)
			api.GET("/api-requests/:id/pipeline-runs", cfg.PipelineRunHandler.ListRunsForAPIRequest)
		}
	}

	return r
}
