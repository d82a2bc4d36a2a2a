// Package main - точка входа HTTP сервера Roomies Hub.
//
// Сервер принимает начисления очков и отметки о выполнении задач,
// отдаёт прогресс жильцов и аналитику домохозяйства, а также транслирует
// доменные события в браузер через WebSocket.
//
// Архитектура:
// - Domain: очки, уровни, серии, вехи и аналитика без внешних зависимостей
// - Application: команды (леджер) и запросы (прогресс, аналитика)
// - Infrastructure: PostgreSQL, Redis, шина событий, планировщик
// - Interface: HTTP API и WebSocket поток
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomies/roomies-hub/config"

	// Application layer
	"github.com/roomies/roomies-hub/internal/application/command"
	"github.com/roomies/roomies-hub/internal/application/eventhandler"
	"github.com/roomies/roomies-hub/internal/application/query"
	"github.com/roomies/roomies-hub/internal/bootstrap"
	"github.com/roomies/roomies-hub/internal/domain/gamification"

	// Infrastructure layer
	"github.com/roomies/roomies-hub/internal/infrastructure/messaging"
	"github.com/roomies/roomies-hub/internal/infrastructure/scheduler"

	// Interface layer
	httpserver "github.com/roomies/roomies-hub/internal/interface/http"
	"github.com/roomies/roomies-hub/internal/interface/http/handlers"
	"github.com/roomies/roomies-hub/internal/interface/websocket"

	// Packages
	"github.com/roomies/roomies-hub/pkg/logger"
	"github.com/roomies/roomies-hub/pkg/metrics"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		slog.Error("application error", logger.Err(err))
		os.Exit(1)
	}
}

// run содержит основную логику приложения.
// Вынесено в отдельную функцию для удобства тестирования и обработки ошибок.
func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg, "server")
	log.Info("starting Roomies Hub server",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. МЕТРИКИ
	// ─────────────────────────────────────────────────────────────────────────
	var m *metrics.Manager
	if cfg.Observability.MetricsEnabled {
		m = metrics.NewManager(metrics.WithRuntimeCollectors(true))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ХРАНИЛИЩЕ (PostgreSQL или in-memory)
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := bootstrap.OpenStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (опционально, общий кэш аналитики)
	// ─────────────────────────────────────────────────────────────────────────
	cache, analyticsCache := bootstrap.OpenAnalyticsCache(cfg.Redis, log)
	if cache != nil {
		defer func() {
			log.Info("closing Redis connection...")
			if err := cache.Close(); err != nil {
				log.Warn("failed to close Redis", logger.Err(err))
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	busConfig.Metrics = m
	eventBus := messaging.NewInMemoryEventBus(busConfig)
	eventBus.Use(messaging.LoggingMiddleware(log))
	defer func() {
		log.Info("closing event bus...")
		if err := eventBus.Close(); err != nil {
			log.Warn("failed to close event bus", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. APPLICATION LAYER - Commands
	// ─────────────────────────────────────────────────────────────────────────
	engine := gamification.NewMilestoneEngine(nil, nil)

	ledgerConfig := command.DefaultPointsLedgerConfig()
	ledgerConfig.Engine = engine
	ledgerConfig.MaxAttempts = cfg.Ledger.MaxAttempts
	ledgerConfig.RetryBaseDelay = cfg.Ledger.RetryBaseDelay
	ledgerConfig.RetryMaxDelay = cfg.Ledger.RetryMaxDelay
	ledgerConfig.Timeout = cfg.Ledger.Timeout
	ledgerConfig.StreakScanDays = cfg.Ledger.StreakScanDays
	ledgerConfig.Features = cfg.Features
	ledgerConfig.Metrics = m
	ledgerConfig.Logger = log

	ledger := command.NewPointsLedger(storage.Store, eventBus, ledgerConfig)
	completeTask := command.NewCompleteTaskHandler(storage.Store, ledger, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION LAYER - Queries
	// ─────────────────────────────────────────────────────────────────────────
	progress := query.NewGetUserProgressHandler(storage.Store, storage.Store, engine)

	analyticsService, err := bootstrap.NewAnalyticsService(cfg, storage.Store, analyticsCache, eventBus, m, log)
	if err != nil {
		return fmt.Errorf("failed to create analytics service: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	onTaskChanged := eventhandler.NewOnTaskChangedHandler(analyticsService, log, eventhandler.DefaultTaskChangedConfig())
	if err := onTaskChanged.Register(eventBus); err != nil {
		return fmt.Errorf("failed to subscribe task handler: %w", err)
	}

	hub := websocket.NewHub(log, m)
	if err := eventBus.SubscribeAll(hub.HandleEvent); err != nil {
		return fmt.Errorf("failed to subscribe websocket hub: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = bootstrap.NewScheduler(cfg, storage.Store, analyticsService, m, log)
		if err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 11. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	healthChecker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if storage.Pinger != nil {
		healthChecker.AddCheck("database", storage.Pinger.Ping)
	}
	if analyticsCache != nil {
		healthChecker.AddOptionalCheck("cache", analyticsCache.Ping)
	}

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	httpConfig.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpConfig.APIKeys = cfg.HTTP.APIKeys
	httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpConfig.EnableMetrics = cfg.Observability.MetricsEnabled
	httpConfig.MetricsPath = cfg.Observability.MetricsPath
	httpConfig.Version = cfg.App.Version

	httpDeps := httpserver.Dependencies{
		Ledger:       ledger,
		CompleteTask: completeTask,
		Progress:     progress,
		Analytics:    analyticsService,
		Hub:          hub,
		WebSocket: websocket.HandlerOptions{
			Enabled: func(householdID string) bool {
				return cfg.Features.Enabled(config.FeatureRealtimeWebSocket, "", householdID)
			},
			Logger: log,
		},
		Metrics:       m,
		Logger:        log,
		HealthChecker: healthChecker,
	}

	httpServer := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. ЗАПУСК СЕРВИСОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting services...")

	errCh := make(chan error, 2)

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Roomies Hub server is running",
		"http_address", httpServer.Address(),
		"scheduler", sched != nil,
		"in_memory", cfg.Database.InMemory,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", logger.Err(err))
		return err
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// 1. HTTP сервер (перестаём принимать новые запросы)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		shutdownErr = errors.Join(shutdownErr, err)
	}

	// 2. Планировщик
	if sched != nil {
		log.Info("stopping scheduler...")
		if err := sched.Stop(); err != nil {
			log.Error("failed to stop scheduler", logger.Err(err))
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}

	// 3. Event bus, Redis и база данных закроются через defer

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

	return nil
}
