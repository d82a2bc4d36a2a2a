// Package bootstrap builds the infrastructure shared by the server and worker
// binaries from config.Config: logger, storage, analytics cache, analytics
// service and the background scheduler.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roomies/roomies-hub/config"
	"github.com/roomies/roomies-hub/internal/application/query"
	"github.com/roomies/roomies-hub/internal/domain/analytics"
	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/internal/infrastructure/persistence/memory"
	"github.com/roomies/roomies-hub/internal/infrastructure/persistence/postgres"
	"github.com/roomies/roomies-hub/internal/infrastructure/persistence/redis"
	"github.com/roomies/roomies-hub/internal/infrastructure/scheduler"
	"github.com/roomies/roomies-hub/internal/infrastructure/scheduler/jobs"
	"github.com/roomies/roomies-hub/pkg/circuitbreaker"
	"github.com/roomies/roomies-hub/pkg/logger"
	"github.com/roomies/roomies-hub/pkg/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger installs the process logger. LOG_FORMAT overrides the
// environment default.
func NewLogger(cfg *config.Config, process string) *slog.Logger {
	opts := logger.ForEnvironment(string(cfg.App.Environment), cfg.Observability.LogLevel, cfg.App.Debug)
	switch logger.Format(cfg.Observability.LogFormat) {
	case logger.FormatJSON, logger.FormatText:
		opts.Format = logger.Format(cfg.Observability.LogFormat)
	}
	opts.Attrs = append(opts.Attrs,
		slog.String("service", cfg.App.Name),
		slog.String("process", process),
		slog.String("version", cfg.App.Version),
	)
	return logger.Setup(opts)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// Store is everything the engine needs from persistence.
type Store interface {
	household.Store
	gamification.MilestoneRepository
	gamification.LedgerTransactor
}

// Pinger verifies connectivity of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Storage is an opened store with its lifecycle.
type Storage struct {
	Store Store

	// Pinger is nil for the in-memory store.
	Pinger Pinger

	close func()
}

// Close releases the connection pool.
func (s *Storage) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// OpenStorage connects to PostgreSQL and applies migrations, or returns the
// in-memory store when DB_IN_MEMORY is set.
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Storage, error) {
	if cfg.InMemory {
		log.Warn("using in-memory store; data is lost on restart")
		return &Storage{Store: memory.NewStore()}, nil
	}

	log.Info("connecting to database...")
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.URL, postgres.Config{
		MaxConns:        int32(cfg.MaxOpenConns),
		MinConns:        int32(cfg.MaxIdleConns),
		MaxConnLifetime: cfg.ConnMaxLifetime,
		MaxConnIdleTime: cfg.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.AutoMigrate {
		log.Info("running database migrations...")
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		if status, err := migrator.Status(ctx); err != nil {
			log.Warn("failed to get migration status", logger.Err(err))
		} else {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			log.Info("migrations completed", "applied", applied, "total", len(status))
		}
	}

	return &Storage{
		Store:  postgres.NewStore(conn),
		Pinger: conn,
		close: func() {
			log.Info("closing database connection...")
			conn.Close()
		},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYTICS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// OpenAnalyticsCache connects to Redis. A disabled or unreachable Redis
// yields nil: analytics then run on the in-process cache only.
func OpenAnalyticsCache(cfg config.RedisConfig, log *slog.Logger) (*redis.Cache, *redis.AnalyticsCache) {
	if cfg.Disabled {
		log.Info("redis disabled, analytics use the local cache")
		return nil, nil
	}

	log.Info("connecting to Redis...")
	cache, err := redis.NewCache(redis.Config{
		URL:          cfg.URL,
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   redis.DefaultConfig().MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		log.Warn("failed to connect to Redis, shared analytics cache disabled", logger.Err(err))
		return nil, nil
	}
	log.Info("Redis connection established")
	return cache, redis.NewAnalyticsCache(cache)
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYTICS SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// NewAnalyticsService wires the analytics service with the configured
// thresholds, category table, cache and breaker.
func NewAnalyticsService(
	cfg *config.Config,
	store Store,
	cache *redis.AnalyticsCache,
	publisher shared.EventPublisher,
	m *metrics.Manager,
	log *slog.Logger,
) (*query.AnalyticsService, error) {
	rules, err := config.LoadCategoryRules(cfg.Analytics.CategoryRulesFile)
	if err != nil {
		return nil, err
	}

	opts := analytics.DefaultOptions()
	opts.HighValueThreshold = cfg.Analytics.HighValueThreshold
	opts.OverdueAlertThreshold = cfg.Analytics.OverdueAlertThreshold
	opts.LowCompletionRate = cfg.Analytics.LowCompletionRate
	opts.MinTasksForRateAdvice = cfg.Analytics.MinTasksForRateAdvice
	opts.StreakScanDays = cfg.Ledger.StreakScanDays

	svcCfg := query.DefaultAnalyticsServiceConfig()
	svcCfg.CacheTTL = cfg.Analytics.CacheTTL
	svcCfg.ComputeTimeout = cfg.Analytics.ComputeTimeout
	svcCfg.Options = opts
	svcCfg.Categorizer = analytics.NewCategorizer(rules)
	svcCfg.Publisher = publisher
	svcCfg.Features = cfg.Features
	svcCfg.Metrics = m
	svcCfg.Logger = log

	if cache != nil {
		svcCfg.Cache = cache
		svcCfg.Breaker = circuitbreaker.New("analytics-cache",
			circuitbreaker.WithFailureThreshold(cfg.Analytics.CircuitBreakerThreshold),
			circuitbreaker.WithSuccessThreshold(1),
			circuitbreaker.WithTimeout(cfg.Analytics.CircuitBreakerTimeout),
			circuitbreaker.WithMaxHalfOpenRequests(1),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				m.SetCircuitState(name, int(to))
				log.Warn("circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			}),
		)
	}

	return query.NewAnalyticsService(store, svcCfg), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// NewScheduler registers the analytics refresh job. The cron expression,
// when set, takes precedence over the interval.
func NewScheduler(
	cfg *config.Config,
	households jobs.HouseholdLister,
	refresher jobs.AnalyticsRefresher,
	m *metrics.Manager,
	log *slog.Logger,
) (*scheduler.Scheduler, error) {
	s := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:     log,
		Timezone:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
		Metrics:    m,
	})

	if !cfg.Features.Enabled(config.FeatureAnalyticsRefresh, "", "") {
		log.Info("analytics refresh disabled by feature flag")
		return s, nil
	}

	var schedule scheduler.Schedule = scheduler.NewIntervalSchedule(cfg.Scheduler.RefreshAnalyticsInterval)
	if cfg.Scheduler.RefreshAnalyticsCron != "" {
		parsed, err := scheduler.ParseSchedule(cfg.Scheduler.RefreshAnalyticsCron)
		if err != nil {
			return nil, fmt.Errorf("invalid SCHEDULER_ANALYTICS_CRON: %w", err)
		}
		schedule = parsed
	}

	windows := []int{7}
	if d := cfg.Analytics.DefaultWindowDays; d != 7 {
		windows = append(windows, d)
	}

	job := jobs.NewRefreshAnalyticsJob(households, refresher, log, jobs.RefreshAnalyticsConfig{
		ActiveSince:         cfg.Scheduler.ActiveSince,
		WindowDays:          windows,
		Concurrency:         cfg.Scheduler.MaxConcurrentJobs,
		PerHouseholdTimeout: cfg.Scheduler.PerHouseholdLimit,
	})
	if err := s.Register(job, schedule); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}
	log.Info("scheduled job registered", "job", job.Name(), "schedule", schedule.String())

	return s, nil
}
