package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohamedkhairy/diting/internal/alert"
	"github.com/mohamedkhairy/diting/internal/api"
	"github.com/mohamedkhairy/diting/internal/broker"
	"github.com/mohamedkhairy/diting/internal/config"
	"github.com/mohamedkhairy/diting/internal/engine"
	"github.com/mohamedkhairy/diting/internal/pubsub"
	"github.com/mohamedkhairy/diting/internal/rules"
	"github.com/mohamedkhairy/diting/internal/storage"
	"github.com/mohamedkhairy/diting/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting diting",
		logger.String("environment", cfg.Environment),
		logger.String("db_driver", cfg.Database.Driver),
		logger.Int("api_port", cfg.API.Port),
	)

	// Open the database and make sure the tables exist
	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open database", logger.ErrorField(err))
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		logger.Fatal("Failed to initialize schema", logger.ErrorField(err))
	}

	ruleStore := rules.NewDatabaseRuleStore(db)
	triggerStore := storage.NewSQLTriggerStorage(db)
	webhooks := alert.NewWebhookDispatcher(cfg.Engine.WebhookTimeout)

	// Optional trigger stream
	var publisher engine.TriggerPublisher
	if cfg.Redis.Enabled {
		redisClient, err := pubsub.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to initialize Redis client", logger.ErrorField(err))
		}
		defer redisClient.Close()
		publisher = alert.NewStreamPublisher(redisClient, cfg.Redis.TriggerStream, 2*time.Second)
		logger.Info("Publishing triggers to Redis stream", logger.String("stream", cfg.Redis.TriggerStream))
	}

	// Build one engine per configured broker
	specs, err := cfg.LoadEngines()
	if err != nil {
		logger.Fatal("Failed to load engines", logger.ErrorField(err))
	}

	factory := broker.NewFactory()
	manager := engine.NewManager()
	var adapters []broker.Adapter
	for _, spec := range specs {
		adapter, err := factory.Create(spec.Adapter, broker.Config{
			Name:    spec.Broker,
			BaseURL: spec.BaseURL,
			APIKey:  spec.APIKey,
			Timeout: spec.Timeout,
		})
		if err != nil {
			logger.Fatal("Failed to create broker adapter",
				logger.String("engine", spec.Name),
				logger.String("adapter", spec.Adapter),
				logger.ErrorField(err),
			)
		}
		adapters = append(adapters, adapter)

		e := engine.NewQuoteEngine(engineConfig(cfg.Engine, spec), adapter, ruleStore, triggerStore, webhooks)
		if publisher != nil {
			e.SetPublisher(publisher)
		}
		if err := manager.Register(e); err != nil {
			logger.Fatal("Failed to register engine", logger.String("engine", spec.Name), logger.ErrorField(err))
		}
	}

	if err := manager.StartAll(ctx); err != nil {
		logger.Error("Some engines failed to start", logger.ErrorField(err))
	}

	// Trigger history retention
	retention := storage.NewRetentionScheduler(triggerStore, cfg.Retention.TriggerRetentionDays, cfg.Retention.PurgeSchedule)
	if err := retention.Start(ctx); err != nil {
		logger.Fatal("Failed to start retention scheduler", logger.ErrorField(err))
	}

	// HTTP surface
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.API.Port),
		Handler: api.NewRouter(api.RouterConfig{
			Rules:        ruleStore,
			Triggers:     triggerStore,
			Engines:      manager,
			DB:           db,
			EngineCtx:    ctx,
			JWTSecret:    cfg.API.JWTSecret,
			RateLimitRPS: cfg.API.RateLimitRPS,
		}),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start HTTP server", logger.ErrorField(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down diting")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", logger.ErrorField(err))
	}

	retention.Stop()
	manager.StopAll()
	for _, adapter := range adapters {
		if err := adapter.Close(); err != nil {
			logger.Warn("Error closing broker adapter", logger.String("broker", adapter.Name()), logger.ErrorField(err))
		}
	}
	cancel()

	logger.Info("diting stopped")
}

// engineConfig merges the global engine settings with per-engine overrides
func engineConfig(defaults config.EngineConfig, spec config.EngineSpec) engine.Config {
	cfg := engine.Config{
		Name:                   spec.Name,
		BrokerTag:              spec.Broker,
		PollInterval:           defaults.PollInterval,
		CooldownCycles:         defaults.CooldownCycles,
		ReconcileInterval:      defaults.ReconcileInterval,
		IdleBackoff:            defaults.IdleBackoff,
		ErrorBackoff:           defaults.ErrorBackoff,
		MaxConsecutiveFailures: defaults.MaxConsecutiveFailures,
	}
	if spec.PollInterval > 0 {
		cfg.PollInterval = spec.PollInterval
	}
	if spec.CooldownCycles > 0 {
		cfg.CooldownCycles = spec.CooldownCycles
	}
	return cfg
}
