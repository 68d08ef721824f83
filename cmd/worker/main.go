package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/ghuser/pokedex/pkg/app"
	"github.com/ghuser/pokedex/pkg/cache"
	"github.com/ghuser/pokedex/pkg/config"
	"github.com/ghuser/pokedex/pkg/events"
	"github.com/ghuser/pokedex/pkg/logger"
	"github.com/ghuser/pokedex/pkg/telemetry"
	"github.com/ghuser/pokedex/pkg/workflows"
	pokemonSvcs "github.com/ghuser/pokedex/services/pokemon/application/services"
	pokemonWorkflows "github.com/ghuser/pokedex/services/pokemon/application/workflows"
	pokemonEvents "github.com/ghuser/pokedex/services/pokemon/domain/events"
)

// warmConcurrency bounds concurrent detail fetches per page_merged event.
const warmConcurrency = 4

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	if err := config.ValidateForProduction(cfg); err != nil {
		slog.Error("production config validation failed", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, _, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Error("failed to setup otel", "error", err)
		os.Exit(1)
	}
	defer otelShutdown(context.Background()) //nolint:errcheck

	if err := telemetry.SetupSentry(cfg); err != nil {
		log.Warn("failed to setup sentry, continuing without crash reporting", "error", err)
	}
	defer telemetry.SentryFlush()

	appConfig := &app.Application{Config: cfg, Logger: log}

	closeStore, err := pokemonSvcs.OpenLocalStore(ctx, appConfig)
	if err != nil {
		log.Error("failed to open local store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer closeStore()

	redisClient, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1) //nolint:gocritic
	}
	defer redisClient.Close() //nolint:errcheck
	log.Info("redis connected")
	appConfig.Redis = redisClient

	// page_merged events only flow through the Postgres outbox.
	if cfg.StoreDriver == config.StorePostgres {
		eventBus, err := events.NewEventBus(cfg, log)
		if err != nil {
			log.Error("failed to setup event bus", "error", err)
			os.Exit(1) //nolint:gocritic
		}
		defer eventBus.Close() //nolint:errcheck
		appConfig.EventBus = eventBus
	}

	temporalClient, err := workflows.NewTemporalClient(ctx, cfg.TemporalHostPort, cfg.TemporalNamespace, cfg.TemporalTaskQueue, log)
	if err != nil {
		log.Warn("temporal unavailable, scheduled syncs run in-process", "error", err)
	} else {
		defer temporalClient.Close()
		appConfig.TemporalClient = temporalClient
	}

	svcs := pokemonSvcs.New(appConfig)

	if appConfig.EventBus != nil {
		if err := registerSubscribers(ctx, appConfig, svcs.Pokemon); err != nil {
			log.Error("failed to register subscribers", "error", err)
			os.Exit(1) //nolint:gocritic
		}
	}

	if appConfig.TemporalClient != nil {
		w := appConfig.TemporalClient.NewWorker()
		pokemonWorkflows.Register(w, &pokemonWorkflows.Activities{Syncer: svcs.Pokemon})
		if err := w.Start(); err != nil {
			log.Error("failed to start temporal worker", "error", err)
			os.Exit(1) //nolint:gocritic
		}
		defer w.Stop()
		log.Info("temporal worker started", "task_queue", cfg.TemporalTaskQueue)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SyncSchedule, scheduledSync(ctx, appConfig, svcs.Pokemon)); err != nil {
		log.Error("invalid sync schedule", "schedule", cfg.SyncSchedule, "error", err)
		os.Exit(1) //nolint:gocritic
	}
	scheduler.Start()
	log.Info("catalog sync scheduled", "schedule", cfg.SyncSchedule)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	<-scheduler.Stop().Done()
	cancel()

	// EventBus.Close() (via defer) waits up to 30s for in-flight handlers.
	log.Info("worker stopped")
}

// registerSubscribers wires all domain event handlers.
// Add new topics here as more services publish events.
func registerSubscribers(ctx context.Context, a *app.Application, warmer detailWarmer) error {
	errCh, err := a.EventBus.Subscribe(ctx, pokemonEvents.TopicPageMerged, handlePageMerged(warmer, a.Logger))
	if err != nil {
		return err
	}

	// Drain subscriber errors in background so the channel never blocks.
	go func() {
		for err := range errCh {
			a.Logger.ErrorContext(ctx, "subscriber error",
				"topic", pokemonEvents.TopicPageMerged,
				"error", err,
			)
		}
	}()

	a.Logger.Info("event subscribers registered", "topics", []string{pokemonEvents.TopicPageMerged})
	return nil
}

// scheduledSync hands the catalog sync to Temporal when a client is
// connected and runs it in-process otherwise.
func scheduledSync(ctx context.Context, a *app.Application, svc *pokemonSvcs.PokemonService) func() {
	return func() {
		if a.TemporalClient != nil {
			run, err := pokemonWorkflows.StartSync(ctx, a.TemporalClient.Client, a.TemporalClient.TaskQueue,
				pokemonWorkflows.SyncCatalogInput{MaxSteps: pokemonWorkflows.DefaultMaxSteps})
			if err != nil {
				a.Logger.ErrorContext(ctx, "scheduled sync failed to start", "error", err)
				telemetry.CaptureError(ctx, err, map[string]string{"job": "sync_catalog", "mode": "temporal"})
				return
			}
			a.Logger.InfoContext(ctx, "scheduled sync started", "workflow_id", run.GetID(), "run_id", run.GetRunID())
			return
		}

		res, err := svc.Sync(ctx)
		if err != nil {
			a.Logger.ErrorContext(ctx, "scheduled sync failed", "steps", res.Steps, "error", err)
			telemetry.CaptureError(ctx, err, map[string]string{"job": "sync_catalog", "mode": "in_process"})
			return
		}
		a.Logger.InfoContext(ctx, "scheduled sync finished", "steps", res.Steps, "items", res.Items)
	}
}
