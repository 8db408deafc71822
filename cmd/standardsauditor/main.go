// Command standardsauditor is the service's composition root: it loads
// configuration from the environment, wires every collaborator, mounts the
// HTTP surface behind the Logging -> RateLimit -> Auth middleware chain, and
// shuts down gracefully on SIGINT/SIGTERM, following the teacher's
// registryservice main's signal-driven shutdown idiom.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ronkoch2-code/code-standards-auditor/internal/api"
	"github.com/ronkoch2-code/code-standards-auditor/internal/authstore"
	"github.com/ronkoch2-code/code-standards-auditor/internal/batch"
	"github.com/ronkoch2-code/code-standards-auditor/internal/cache"
	"github.com/ronkoch2-code/code-standards-auditor/internal/config"
	"github.com/ronkoch2-code/code-standards-auditor/internal/graphstore"
	"github.com/ronkoch2-code/code-standards-auditor/internal/llm"
	"github.com/ronkoch2-code/code-standards-auditor/internal/logging"
	"github.com/ronkoch2-code/code-standards-auditor/internal/middleware"
	"github.com/ronkoch2-code/code-standards-auditor/internal/prompts"
	"github.com/ronkoch2-code/code-standards-auditor/internal/syncengine"
	"github.com/ronkoch2-code/code-standards-auditor/internal/workflow"

	"github.com/redis/go-redis/v9"
)

const (
	exitConfigError     = 1
	exitGraphStoreError = 2
	exitFatalInitError  = 3
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(exitConfigError)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Service = cfg.ServiceName
	logger := logging.New(logCfg)
	ctxLogger := logging.NewContextLogger(logger, map[string]interface{}{"service": cfg.ServiceName})

	store := graphstore.New(cfg.GraphStore.URI, cfg.GraphStore.Username, cfg.GraphStore.Password)
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer connectCancel()
	if err := store.Connect(connectCtx); err != nil {
		ctxLogger.WithError(err).Error("failed to connect to graph store")
		os.Exit(exitGraphStoreError)
	}
	defer store.Close(context.Background())

	var appCache cache.Cache
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			ctxLogger.WithError(err).Error("invalid redis url, falling back to in-memory cache")
			appCache = cache.NewMemoryCache(cfg.Cache.MaxSize)
		} else {
			appCache = cache.NewRedisCache(redis.NewClient(opts))
		}
	} else {
		appCache = cache.NewMemoryCache(cfg.Cache.MaxSize)
	}

	manager := llm.NewManager()
	for _, p := range cfg.Providers {
		switch p.Name {
		case "gemini":
			provider, err := llm.NewGeminiProvider(context.Background(), p.APIKey, nil)
			if err != nil {
				ctxLogger.WithError(err).Warn("failed to initialize gemini provider, skipping")
				continue
			}
			manager.Register(provider)
		case "anthropic":
			provider, err := llm.NewAnthropicProvider(p.APIKey, nil)
			if err != nil {
				ctxLogger.WithError(err).Warn("failed to initialize anthropic provider, skipping")
				continue
			}
			manager.Register(provider)
		}
	}

	promptStore := prompts.NewStore()
	dispatcher := batch.NewDispatcher(manager, appCache, ctxLogger, cfg.Server.RequestsPerMin)

	syncEngine := syncengine.New(cfg.StandardsDir, filepath.Join(cfg.StandardsDir, ".sync_metadata.json"), store, ctxLogger)
	if err := syncEngine.LoadIndex(); err != nil {
		ctxLogger.WithError(err).Warn("failed to load prior sync index, starting from empty")
	}
	scheduledSync := syncengine.NewScheduledSync(syncEngine, ctxLogger)

	researcher := &workflow.LLMResearcher{Manager: manager, Prompts: promptStore}
	documenter := &workflow.LLMDocumenter{Manager: manager, Prompts: promptStore}
	validators := []workflow.Validator{
		&workflow.LLMValidator{ValidatorName: "completeness", Manager: manager, Prompts: promptStore},
		&workflow.LLMValidator{ValidatorName: "clarity", Manager: manager, Prompts: promptStore},
		&workflow.LLMValidator{ValidatorName: "practicality", Manager: manager, Prompts: promptStore},
		&workflow.LLMValidator{ValidatorName: "consistency", Manager: manager, Prompts: promptStore},
		&workflow.LLMValidator{ValidatorName: "examples", Manager: manager, Prompts: promptStore},
	}
	sinks := []workflow.Sink{
		&workflow.FilesystemSink{Root: cfg.StandardsDir},
		&workflow.GraphSink{Store: store},
		&workflow.CacheSink{Cache: appCache},
	}
	recommender := &workflow.LLMRecommender{Manager: manager, Prompts: promptStore}
	orchestrator := workflow.New(researcher, documenter, validators, sinks, recommender, ctxLogger)

	apiKeys := map[string]string{}
	keyStorePath := filepath.Join(os.TempDir(), cfg.ServiceName+"-apikeys.db")
	if ks, err := authstore.Open(keyStorePath); err != nil {
		ctxLogger.WithError(err).Warn("failed to open api key store, continuing without persisted keys")
	} else {
		defer ks.Close()
		if loaded, err := ks.All(); err == nil {
			apiKeys = loaded
		}
	}
	for k, v := range cfg.Auth.APIKeys {
		apiKeys[k] = v
	}

	e := echo.New()
	e.HideBanner = true

	rateLimiter := middleware.NewRateLimiter(cfg.Server.RequestsPerMin)
	e.Use(middleware.Logging(middleware.LoggingConfig{Logger: ctxLogger, SlowThresholdMs: 2000}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{Limiter: rateLimiter}))
	e.Use(middleware.Auth(middleware.AuthConfig{
		JWTSecret:    cfg.Auth.JWTSecret,
		APIKeys:      apiKeys,
		APIKeyHeader: cfg.Auth.APIKeyHeader,
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	handlers := &api.Handlers{
		Store:        store,
		Cache:        appCache,
		Manager:      manager,
		Dispatcher:   dispatcher,
		Sync:         syncEngine,
		Orchestrator: orchestrator,
		Recommender:  recommender,
		Validators:   validators,
		Logger:       ctxLogger,
		ServiceName:  cfg.ServiceName,
		Version:      cfg.Version,
	}
	api.RegisterRoutes(e, handlers)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	scheduledSync.Start(bgCtx, cfg.SyncInterval)

	go func() {
		addr := ":" + strconv.Itoa(cfg.Server.Port)
		ctxLogger.WithField("addr", addr).Info("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			ctxLogger.WithError(err).Error("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxLogger.Info("shutting down")
	scheduledSync.Stop()
	bgCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		ctxLogger.WithError(err).Error("graceful shutdown failed")
		os.Exit(exitFatalInitError)
	}
	ctxLogger.Info("stopped")
}
