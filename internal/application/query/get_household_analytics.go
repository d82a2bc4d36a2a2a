// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roomies/roomies-hub/internal/domain/analytics"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/circuitbreaker"
	"github.com/roomies/roomies-hub/pkg/logger"
	"github.com/roomies/roomies-hub/pkg/metrics"
	"github.com/roomies/roomies-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET HOUSEHOLD ANALYTICS QUERY
// Снимок аналитики домохозяйства за окно в N дней. Аналитика носит
// справочный характер: сбой чтения хранилища даёт пустой снимок с флагом
// degraded, а не ошибку.
// ══════════════════════════════════════════════════════════════════════════════

// Имена флагов функций, которые проверяет сервис.
const (
	FeaturePredictions    = "analytics.predictions"
	FeatureAnalyticsCache = "analytics.cache"
)

// FeatureGate сообщает, включена ли функция для домохозяйства.
type FeatureGate interface {
	Enabled(feature, userID, householdID string) bool
}

// GetHouseholdAnalyticsQuery - параметры запроса.
type GetHouseholdAnalyticsQuery struct {
	// HouseholdID - домохозяйство.
	HouseholdID string

	// Days - длина окна (по умолчанию analytics.DefaultWindowDays).
	Days int
}

// Validate проверяет параметры и подставляет значения по умолчанию.
func (q *GetHouseholdAnalyticsQuery) Validate() error {
	if !shared.ValidID(q.HouseholdID) {
		return shared.ErrInvalidHouseholdID
	}
	if q.Days == 0 {
		q.Days = analytics.DefaultWindowDays
	}
	if q.Days < 1 || q.Days > analytics.MaxWindowDays {
		return shared.ErrInvalidWindow
	}
	return nil
}

// AnalyticsReader - чтения, нужные агрегатору. Блокировок начисления не берёт.
type AnalyticsReader interface {
	FindHousehold(ctx context.Context, id string) (*household.Household, error)
	FindTasks(ctx context.Context, householdID string, window shared.TimeRange, filter household.TaskFilter) ([]*household.Task, error)
	ListByHousehold(ctx context.Context, householdID string) ([]*household.User, error)
}

// SnapshotCache - внешний кэш снимков (Redis).
type SnapshotCache interface {
	Get(ctx context.Context, householdID, windowKey string) (analytics.Snapshot, bool, error)
	Set(ctx context.Context, snap analytics.Snapshot, ttl time.Duration) error
	InvalidateHousehold(ctx context.Context, householdID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// AnalyticsService отдаёт снимки из кэша и вычисляет их при промахе.
//
// Одинаковые вычисления объединяются через singleflight. Новый запрос того же
// домохозяйства с другим окном отменяет незавершённое старое вычисление.
// Снимок, вычисленный во время инвалидации домохозяйства, в кэш не пишется.
type AnalyticsService struct {
	reader         AnalyticsReader
	full           *analytics.Aggregator
	noPredictions  *analytics.Aggregator
	remote         SnapshotCache
	breaker        *circuitbreaker.CircuitBreaker
	local          *localCache
	publisher      shared.EventPublisher
	features       FeatureGate
	metrics        *metrics.Manager
	logger         *slog.Logger
	clock          timeutil.Clock
	ttl            time.Duration
	computeTimeout time.Duration

	group singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
	inflight    map[string]*computation
	nextID      uint64
}

// computation - незавершённое вычисление домохозяйства.
type computation struct {
	id     uint64
	key    string
	cancel context.CancelCauseFunc
}

// errSuperseded - причина отмены устаревшего вычисления.
var errSuperseded = errors.New("superseded by a newer analytics request")

// AnalyticsServiceConfig - настройки сервиса.
type AnalyticsServiceConfig struct {
	// CacheTTL - время жизни снимка в кэше.
	CacheTTL time.Duration

	// ComputeTimeout ограничивает одно вычисление.
	ComputeTimeout time.Duration

	// Options - пороги агрегатора.
	Options analytics.Options

	// Categorizer - таблица категорий (по умолчанию встроенная).
	Categorizer *analytics.Categorizer

	// Cache - внешний кэш; nil - только локальный.
	Cache SnapshotCache

	// Breaker защищает внешний кэш (по умолчанию circuitbreaker.CacheBreaker).
	Breaker *circuitbreaker.CircuitBreaker

	Publisher shared.EventPublisher
	Features  FeatureGate
	Metrics   *metrics.Manager
	Logger    *slog.Logger
	Clock     timeutil.Clock
}

// DefaultAnalyticsServiceConfig возвращает настройки по умолчанию.
func DefaultAnalyticsServiceConfig() AnalyticsServiceConfig {
	return AnalyticsServiceConfig{
		CacheTTL:       5 * time.Minute,
		ComputeTimeout: 15 * time.Second,
		Options:        analytics.DefaultOptions(),
	}
}

// NewAnalyticsService создаёт сервис.
func NewAnalyticsService(reader AnalyticsReader, config AnalyticsServiceConfig) *AnalyticsService {
	defaults := DefaultAnalyticsServiceConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.ComputeTimeout <= 0 {
		config.ComputeTimeout = defaults.ComputeTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = timeutil.SystemClock{}
	}

	s := &AnalyticsService{
		reader:         reader,
		remote:         config.Cache,
		publisher:      config.Publisher,
		features:       config.Features,
		metrics:        config.Metrics,
		logger:         config.Logger.With(logger.Component("analytics")),
		clock:          config.Clock,
		ttl:            config.CacheTTL,
		computeTimeout: config.ComputeTimeout,
		generations:    make(map[string]uint64),
		inflight:       make(map[string]*computation),
	}
	s.local = newLocalCache(s.clock.Now)

	opts := config.Options
	userHook := opts.OnDataQuality
	opts.OnDataQuality = func(householdID, field string, value float64) {
		s.metrics.RecordDataQuality(field)
		s.logger.Warn("non-finite analytics value replaced with zero",
			logger.HouseholdID(householdID),
			"field", field,
			"value", strconv.FormatFloat(value, 'g', -1, 64),
			logger.Err(shared.ErrDataQuality),
		)
		if userHook != nil {
			userHook(householdID, field, value)
		}
	}
	opts.PredictionsEnabled = true
	s.full = analytics.NewAggregator(config.Categorizer, opts)
	opts.PredictionsEnabled = false
	s.noPredictions = analytics.NewAggregator(config.Categorizer, opts)

	if config.Breaker != nil {
		s.breaker = config.Breaker
	} else {
		s.breaker = circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			s.metrics.SetCircuitState(name, int(to))
			s.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}

	return s
}

// Handle - точка входа запроса.
func (s *AnalyticsService) Handle(ctx context.Context, q GetHouseholdAnalyticsQuery) (analytics.Snapshot, error) {
	return s.Get(ctx, q.HouseholdID, q.Days)
}

// Get возвращает снимок. Ошибка возвращается только для неверных параметров
// и неизвестного домохозяйства; сбои хранилища дают degraded-снимок.
func (s *AnalyticsService) Get(ctx context.Context, householdID string, days int) (analytics.Snapshot, error) {
	q := GetHouseholdAnalyticsQuery{HouseholdID: householdID, Days: days}
	if err := q.Validate(); err != nil {
		return analytics.Snapshot{}, err
	}

	now := s.clock.Now()
	w, degraded, err := s.window(ctx, q.HouseholdID, q.Days, now)
	if err != nil {
		return analytics.Snapshot{}, err
	}
	if degraded {
		return analytics.EmptySnapshot(q.HouseholdID, w, now, true), nil
	}

	if snap, ok := s.cached(ctx, q.HouseholdID, w.Key()); ok {
		return snap, nil
	}

	snap, _ := s.compute(ctx, q.HouseholdID, w)
	return snap, nil
}

// Refresh вычисляет снимок заново и кладёт его в кэш. В отличие от Get,
// возвращает ошибку, если снимок получился degraded.
func (s *AnalyticsService) Refresh(ctx context.Context, householdID string, days int) error {
	q := GetHouseholdAnalyticsQuery{HouseholdID: householdID, Days: days}
	if err := q.Validate(); err != nil {
		return err
	}

	w, degraded, err := s.window(ctx, q.HouseholdID, q.Days, s.clock.Now())
	if err != nil {
		return err
	}
	if degraded {
		return shared.WrapError("analytics", "Refresh", shared.ErrStoreUnavailable, "household lookup failed", nil)
	}

	if _, err = s.compute(ctx, q.HouseholdID, w); err != nil && !shared.IsRetryable(err) {
		err = shared.WrapError("analytics", "Refresh", shared.ErrStoreUnavailable, "computation degraded", err)
	}
	return err
}

// Invalidate удаляет все закэшированные окна домохозяйства.
func (s *AnalyticsService) Invalidate(ctx context.Context, householdID string) error {
	s.mu.Lock()
	s.generations[householdID]++
	s.mu.Unlock()

	s.local.dropHousehold(householdID)

	if s.remote == nil {
		return nil
	}
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.remote.InvalidateHousehold(ctx, householdID)
	})
	if err != nil {
		s.metrics.RecordCacheError()
		return fmt.Errorf("invalidate analytics cache: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internals
// ─────────────────────────────────────────────────────────────────────────────

// window строит окно в зоне домохозяйства. degraded=true, если
// домохозяйство не удалось прочитать (окно тогда в UTC).
func (s *AnalyticsService) window(ctx context.Context, householdID string, days int, now time.Time) (analytics.Window, bool, error) {
	hh, err := s.reader.FindHousehold(ctx, householdID)
	switch {
	case err == nil:
	case shared.IsNotFound(err):
		return analytics.Window{}, false, err
	default:
		s.logger.Warn("household lookup failed, serving degraded analytics",
			logger.HouseholdID(householdID),
			logger.Err(err),
		)
		w, werr := analytics.NewWindow(days, now, time.UTC)
		return w, true, werr
	}

	w, err := analytics.NewWindow(days, now, hh.Location())
	return w, false, err
}

func (s *AnalyticsService) cacheEnabled(householdID string) bool {
	return s.features == nil || s.features.Enabled(FeatureAnalyticsCache, "", householdID)
}

// cached ищет снимок сначала во внешнем кэше, затем в локальном.
func (s *AnalyticsService) cached(ctx context.Context, householdID, key string) (analytics.Snapshot, bool) {
	if s.remote != nil && s.cacheEnabled(householdID) {
		var (
			snap  analytics.Snapshot
			found bool
		)
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			snap, found, err = s.remote.Get(ctx, householdID, key)
			return err
		})
		switch {
		case err != nil:
			s.metrics.RecordCacheError()
			s.logger.Debug("analytics cache unavailable, using local cache",
				logger.HouseholdID(householdID),
				logger.Err(err),
			)
		case found:
			s.metrics.RecordCacheHit()
			return snap, true
		default:
			s.metrics.RecordCacheMiss()
			return analytics.Snapshot{}, false
		}
	}

	if snap, ok := s.local.get(householdID, key); ok {
		s.metrics.RecordCacheHit()
		return snap, true
	}
	s.metrics.RecordCacheMiss()
	return analytics.Snapshot{}, false
}

func (s *AnalyticsService) store(ctx context.Context, snap analytics.Snapshot) {
	s.local.set(snap, s.ttl)

	if s.remote == nil || !s.cacheEnabled(snap.HouseholdID) {
		return
	}
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.remote.Set(ctx, snap, s.ttl)
	})
	if err != nil {
		s.metrics.RecordCacheError()
		s.logger.Debug("failed to cache analytics snapshot",
			logger.HouseholdID(snap.HouseholdID),
			logger.WindowKey(snap.Window.Key),
			logger.Err(err),
		)
	}
}

func (s *AnalyticsService) current(householdID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[householdID] == gen
}

// evict убирает снимок, записанный после инвалидации домохозяйства.
func (s *AnalyticsService) evict(ctx context.Context, householdID, key string) {
	s.local.drop(householdID, key)

	if s.remote == nil {
		return
	}
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.remote.InvalidateHousehold(ctx, householdID)
	})
	if err != nil {
		s.metrics.RecordCacheError()
		s.logger.Warn("failed to evict stale analytics snapshot",
			logger.HouseholdID(householdID),
			logger.WindowKey(key),
			logger.Err(err),
		)
	}
}

// compute объединяет одинаковые вычисления и возвращает снимок; ошибка
// сопровождает degraded-снимок.
func (s *AnalyticsService) compute(ctx context.Context, householdID string, w analytics.Window) (analytics.Snapshot, error) {
	s.mu.Lock()
	gen := s.generations[householdID]
	s.mu.Unlock()

	sfKey := householdID + "|" + w.Key() + "|" + strconv.FormatUint(gen, 10)
	ch := s.group.DoChan(sfKey, func() (interface{}, error) {
		return s.run(householdID, w, gen)
	})

	select {
	case res := <-ch:
		// результат singleflight общий для всех ожидающих
		snap := res.Val.(analytics.Snapshot).Clone()
		return snap, res.Err
	case <-ctx.Done():
		return analytics.EmptySnapshot(householdID, w, s.clock.Now(), true), ctx.Err()
	}
}

// run выполняет одно вычисление. Контекст не зависит от вызывающего, чтобы
// уход одного из ожидающих не отменял общий результат.
func (s *AnalyticsService) run(householdID string, w analytics.Window, gen uint64) (analytics.Snapshot, error) {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	ctx, cancelTimeout := context.WithTimeout(ctx, s.computeTimeout)
	defer cancelTimeout()

	id := s.begin(householdID, w.Key(), cancel)
	defer s.end(householdID, id)

	start := time.Now()
	now := s.clock.Now()
	snap, err := s.aggregate(ctx, householdID, w, now)
	d := time.Since(start)
	s.metrics.RecordAnalyticsCompute(d, snap.Degraded)

	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errSuperseded) {
			err = cause
		}
		s.logger.Warn("analytics computation degraded",
			logger.HouseholdID(householdID),
			logger.WindowKey(w.Key()),
			logger.Latency(d),
			logger.Err(err),
		)
	} else {
		if s.current(householdID, gen) {
			s.store(ctx, snap)
			// инвалидация могла пройти во время записи
			if !s.current(householdID, gen) {
				s.evict(ctx, householdID, w.Key())
			}
		}
		s.logger.Debug("analytics computed",
			logger.HouseholdID(householdID),
			logger.WindowKey(w.Key()),
			logger.Latency(d),
		)
	}

	s.publish(snap)
	return snap, err
}

// begin регистрирует вычисление и отменяет устаревшее вычисление того же
// домохозяйства с другим окном.
func (s *AnalyticsService) begin(householdID, key string, cancel context.CancelCauseFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.inflight[householdID]; ok && prev.key != key {
		prev.cancel(errSuperseded)
	}
	s.nextID++
	s.inflight[householdID] = &computation{id: s.nextID, key: key, cancel: cancel}
	return s.nextID
}

func (s *AnalyticsService) end(householdID string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.inflight[householdID]; ok && c.id == id {
		delete(s.inflight, householdID)
	}
}

// aggregate читает задачи и участников и строит снимок. При ошибке чтения
// возвращается пустой degraded-снимок вместе с ошибкой.
func (s *AnalyticsService) aggregate(ctx context.Context, householdID string, w analytics.Window, now time.Time) (analytics.Snapshot, error) {
	tasks, err := s.reader.FindTasks(ctx, householdID, w.Range(), household.TaskFilter{})
	if err != nil {
		return analytics.EmptySnapshot(householdID, w, now, true), err
	}
	users, err := s.reader.ListByHousehold(ctx, householdID)
	if err != nil {
		return analytics.EmptySnapshot(householdID, w, now, true), err
	}
	if err := ctx.Err(); err != nil {
		return analytics.EmptySnapshot(householdID, w, now, true), err
	}

	agg := s.full
	if s.features != nil && !s.features.Enabled(FeaturePredictions, "", householdID) {
		agg = s.noPredictions
	}
	return agg.Aggregate(householdID, w, tasks, users, now), nil
}

func (s *AnalyticsService) publish(snap analytics.Snapshot) {
	if s.publisher == nil {
		return
	}
	event := shared.NewAnalyticsRefreshedEvent(snap.HouseholdID, snap.Window.Key, snap.Degraded)
	if err := s.publisher.Publish(event); err != nil {
		s.logger.Debug("failed to publish analytics event", logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL CACHE
// ══════════════════════════════════════════════════════════════════════════════

// localCache - кэш снимков в памяти процесса с TTL. Используется, когда
// внешний кэш не настроен или недоступен.
type localCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]map[string]localEntry
}

type localEntry struct {
	snap    analytics.Snapshot
	expires time.Time
}

func newLocalCache(now func() time.Time) *localCache {
	return &localCache{now: now, entries: make(map[string]map[string]localEntry)}
}

func (c *localCache) get(householdID, key string) (analytics.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[householdID][key]
	if !ok {
		return analytics.Snapshot{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries[householdID], key)
		return analytics.Snapshot{}, false
	}
	return e.snap.Clone(), true
}

func (c *localCache) set(snap analytics.Snapshot, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKey, ok := c.entries[snap.HouseholdID]
	if !ok {
		byKey = make(map[string]localEntry)
		c.entries[snap.HouseholdID] = byKey
	}
	byKey[snap.Window.Key] = localEntry{snap: snap.Clone(), expires: c.now().Add(ttl)}
}

func (c *localCache) drop(householdID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries[householdID], key)
}

func (c *localCache) dropHousehold(householdID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, householdID)
}
