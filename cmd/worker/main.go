// Package main - точка входа для фоновых процессов (Worker) Roomies Hub.
//
// Worker периодически пересчитывает снимки аналитики недавно активных
// домохозяйств и складывает их в общий кэш Redis, чтобы HTTP сервер
// отдавал аналитику без тяжёлых вычислений на запросе.
//
// Запуск с флагом -once выполняет один проход и завершает процесс
// (удобно для cron/Kubernetes CronJob).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roomies/roomies-hub/config"
	"github.com/roomies/roomies-hub/internal/bootstrap"
	"github.com/roomies/roomies-hub/pkg/logger"
)

func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *once); err != nil {
		slog.Error("worker error", logger.Err(err))
		os.Exit(1)
	}
}

// run содержит основную логику Worker.
func run(ctx context.Context, once bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Снимки in-memory хранилища не видны серверу: Worker без БД бесполезен.
	if cfg.Database.InMemory {
		return errors.New("worker requires DATABASE_URL")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	log := bootstrap.NewLogger(cfg, "worker")
	log.Info("starting Roomies Hub Worker",
		"env", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
		"once", once,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (и миграции)
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := bootstrap.OpenStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS
	// ─────────────────────────────────────────────────────────────────────────
	cache, analyticsCache := bootstrap.OpenAnalyticsCache(cfg.Redis, log)
	if cache == nil {
		log.Warn("refreshed snapshots stay local to the worker without Redis")
	} else {
		defer func() {
			log.Info("closing Redis connection...")
			_ = cache.Close()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. СЕРВИС АНАЛИТИКИ И ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	analyticsService, err := bootstrap.NewAnalyticsService(cfg, storage.Store, analyticsCache, nil, nil, log)
	if err != nil {
		return fmt.Errorf("failed to create analytics service: %w", err)
	}

	sched, err := bootstrap.NewScheduler(cfg, storage.Store, analyticsService, nil, log)
	if err != nil {
		return err
	}

	jobs := sched.ListJobs()
	if len(jobs) == 0 {
		log.Warn("no jobs registered, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОДНОКРАТНЫЙ ПРОХОД
	// ─────────────────────────────────────────────────────────────────────────
	if once {
		var runErr error
		for _, job := range jobs {
			result, err := sched.RunNow(ctx, job.Name)
			if result != nil {
				log.Info("job finished",
					"job", result.JobName,
					"success", result.Success,
					"duration", result.Duration.String(),
				)
			}
			runErr = errors.Join(runErr, err)
		}
		return runErr
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ЗАПУСК ПЛАНИРОВЩИКА
	// ─────────────────────────────────────────────────────────────────────────
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, job := range jobs {
		log.Info("job scheduled",
			"job", job.Name,
			"schedule", job.Schedule,
			"next_run", job.NextRun,
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Roomies Hub Worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	// Stop дожидается текущих запусков; база и Redis закроются через defer.
	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stopped with error", logger.Err(err))
	}

	log.Info("shutdown completed successfully")
	return nil
}
