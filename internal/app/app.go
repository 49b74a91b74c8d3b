package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/promptbridge-backend/internal/data/db"
	"github.com/yungbote/promptbridge-backend/internal/data/repos"
	httpx "github.com/yungbote/promptbridge-backend/internal/http"
	httpH "github.com/yungbote/promptbridge-backend/internal/http/handlers"
	"github.com/yungbote/promptbridge-backend/internal/modules/prompts"
	"github.com/yungbote/promptbridge-backend/internal/observability"
	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
	"github.com/yungbote/promptbridge-backend/internal/platform/logger"
	"github.com/yungbote/promptbridge-backend/internal/platform/namelock"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *gorm.DB
	Metrics  *observability.Metrics
	Server   *httpx.Server
	Pipeline *prompts.Pipeline

	shutdownOtel func(context.Context) error
	closers      []func() error
}

func New(ctx context.Context) (*App, error) {
	cfg, cfgErr := LoadConfig()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if cfgErr != nil {
		log.Sync()
		return nil, cfgErr
	}

	a := &App{Log: log, Cfg: cfg}
	a.shutdownOtel = observability.InitOTel(ctx, log, cfg.Otel)
	a.Metrics = observability.Init(log, cfg.MetricsEnabled)

	store, err := bubble.New(log, cfg.Bubble, bubble.WithObserver(a.Metrics))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init bubble client: %w", err)
	}

	locks, err := a.wireLocker()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if cfg.DB.Enabled() {
		theDB, err := db.Open(log, cfg.DB)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := db.AutoMigrateAll(theDB); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("db automigrate: %w", err)
		}
		a.DB = theDB
	} else {
		log.Info("DB_DRIVER not set; pipeline run ledger disabled")
	}

	reposet := repos.New(a.DB, log)

	resolver := prompts.NewResolver(log, store, locks)
	a.Pipeline = prompts.NewPipeline(prompts.PipelineDeps{
		Log:      log,
		Store:    store,
		Resolver: resolver,
		Batches:  prompts.NewBatchCreator(log, store),
		Runs:     reposet.PipelineRuns,
		Metrics:  a.Metrics,
	})

	routerCfg := httpx.RouterConfig{
		Log:            log,
		Metrics:        a.Metrics,
		ServiceName:    cfg.Otel.ServiceName,
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		PromptHandler: httpH.NewPromptHandlerWithDeps(httpH.PromptHandlerDeps{
			Log:      log,
			Config:   store.Config(),
			Pipeline: a.Pipeline,
			Resolver: resolver,
			Merger:   prompts.NewListMerger(log, store),
		}),
		HealthHandler: httpH.NewHealthHandler(a.DB),
	}
	if reposet.PipelineRuns != nil {
		routerCfg.PipelineRunHandler = httpH.NewPipelineRunHandler(reposet.PipelineRuns)
	}
	if cfg.APIKey == "" {
		log.Warn("API_KEY not set; /api routes are unauthenticated")
	}

	a.Server = httpx.NewServer(net.JoinHostPort("", cfg.Port), routerCfg)
	return a, nil
}

func (a *App) wireLocker() (namelock.Locker, error) {
	if a.Cfg.Redis.Addr == "" {
		return namelock.NewLocal(), nil
	}
	rl, err := namelock.NewRedis(a.Log, a.Cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis name lock: %w", err)
	}
	a.closers = append(a.closers, rl.Close)
	return rl, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", "port", a.Cfg.Port)
		errCh <- a.Server.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.Log.Info("shutting down http server")
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.shutdownOtel != nil {
		if err := a.shutdownOtel(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
