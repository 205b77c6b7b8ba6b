package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/browser"
	"github.com/bamarler/geo-optimizer/internal/cache"
	"github.com/bamarler/geo-optimizer/internal/chat"
	"github.com/bamarler/geo-optimizer/internal/config"
	"github.com/bamarler/geo-optimizer/internal/generate"
	"github.com/bamarler/geo-optimizer/internal/runner"
	"github.com/bamarler/geo-optimizer/internal/server"
	"github.com/bamarler/geo-optimizer/internal/store"
)

// Container bundles the assembled services. The API server and the CLI both
// build one and pick the pieces they need.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Postgres *store.PostgresService
	Cache    *cache.CacheService
	Results  *store.ResultRepository
	Bundles  *store.BundleRepository

	Models   *generate.ModelManager
	Analyzer *generate.WebsiteAnalyzer
	Personas *generate.PersonaGenerator
	Prompts  *generate.PromptGenerator

	Hub         *server.Hub
	Coordinator *server.RunCoordinator
	Server      *server.Server

	// Sessions opens a fresh browser-backed chat session. The CLI uses it
	// directly; the coordinator uses it for background runs.
	Sessions server.SessionFactory
	// RunnerOptions carries the reset policy and login credentials every
	// run is executed with.
	RunnerOptions runner.Options

	closers []func()
}

// Close shuts down the container's services in reverse construction order.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build assembles all infrastructure services. Heavy-weight initialization
// (DB, cache, model clients) happens here so the entrypoints stay focused on
// lifecycle. On error, everything already constructed is torn down.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (container *Container, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	// Cache and database
	cacheSvc, err := cache.NewCacheService(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache service: %w", err)
	}
	closers = append(closers, func() {
		_ = cacheSvc.Close()
	})

	postgresSvc, err := store.NewPostgresService(cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres service: %w", err)
	}
	closers = append(closers, func() {
		_ = postgresSvc.Close()
	})

	if err := postgresSvc.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	resultRepo := store.NewResultRepository(postgresSvc, logger)
	bundleRepo := store.NewBundleRepository(postgresSvc, logger)

	// Generation stack
	modelManager, err := generate.NewModelManager(ctx, generate.ModelManagerConfig{
		GeminiAPIKey:   cfg.Gemini.APIKey,
		OpenAIAPIKey:   cfg.OpenAI.APIKey,
		EnableFallback: cfg.OpenAI.EnableFallback,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create model manager: %w", err)
	}

	analyzer := generate.NewWebsiteAnalyzer(modelManager, cacheSvc, logger)
	personaGen := generate.NewPersonaGenerator(modelManager, logger)
	promptGen := generate.NewPromptGenerator(modelManager, logger)

	// Run execution. Each run launches its own browser and tears it down
	// when the run finishes, so a crashed Chrome never poisons the next run.
	sessions := server.SessionFactory(func(ctx context.Context) (runner.ChatSession, func() error, error) {
		driver, err := browser.NewRodDriver(browser.RodConfig{
			Headless:       cfg.Browser.Headless,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			NavTimeout:     cfg.Browser.NavTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		session := chat.NewSession(driver, chat.SessionConfig{
			BaseURL:        cfg.ChatGPT.BaseURL,
			StepTimeout:    cfg.Runner.StepTimeout,
			ExtractTimeout: cfg.Runner.ExtractTimeout,
			SettleDelay:    cfg.Runner.SettleDelay,
		}, logger)
		return session, driver.Close, nil
	})

	runnerOpts := runner.Options{
		ResetPolicy: cfg.Runner.ResetPolicy,
		Email:       cfg.ChatGPT.Email,
		Password:    cfg.ChatGPT.Password,
	}

	hub := server.NewHub(logger)
	closers = append(closers, hub.Close)

	coordinator := server.NewRunCoordinator(ctx, sessions, resultRepo, runnerOpts, hub, logger)

	srv := server.New(cfg.Server, cfg.Generate, server.Deps{
		Analyzer: analyzer,
		Personas: personaGen,
		Prompts:  promptGen,
		Bundles:  bundleRepo,
		Results:  resultRepo,
		Stats:    cacheSvc,
		Runs:     coordinator,
		Hub:      hub,
	}, logger)

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Postgres:      postgresSvc,
		Cache:         cacheSvc,
		Results:       resultRepo,
		Bundles:       bundleRepo,
		Models:        modelManager,
		Analyzer:      analyzer,
		Personas:      personaGen,
		Prompts:       promptGen,
		Hub:           hub,
		Coordinator:   coordinator,
		Server:        srv,
		Sessions:      sessions,
		RunnerOptions: runnerOpts,
		closers:       closers,
	}, nil
}
