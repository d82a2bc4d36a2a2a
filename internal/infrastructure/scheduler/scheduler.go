// Package scheduler runs background jobs of Roomies Hub, such as the periodic
// analytics refresh, on interval or cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roomies/roomies-hub/pkg/logger"
	"github.com/roomies/roomies-hub/pkg/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// Job is a unit of background work.
type Job interface {
	Name() string
	Description() string

	// Run is cancelled when the scheduler stops or the job timeout passes.
	Run(ctx context.Context) error
}

// Schedule yields run times.
type Schedule interface {
	// Next returns the first run time strictly after t.
	Next(t time.Time) time.Time
	String() string
}

// JobResult describes one run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrNilSchedule             = errors.New("schedule cannot be nil")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobRunning              = errors.New("job is already running")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig configures a Scheduler. Zero values are usable.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone in which cron expressions are evaluated. Default UTC.
	Timezone *time.Location

	// JobTimeout bounds one run, 0 disables the bound.
	JobTimeout time.Duration

	Metrics *metrics.Manager

	Now func() time.Time
}

// Scheduler gives every job its own loop: sleep until the next run time, run,
// repeat. A run that outlasts its interval swallows the ticks it missed, so a
// job never overlaps itself.
type Scheduler struct {
	logger     *slog.Logger
	timezone   *time.Location
	jobTimeout time.Duration
	metrics    *metrics.Manager
	now        func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	ctx       context.Context // non-nil while running
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// entry is guarded by Scheduler.mu.
type entry struct {
	job      Job
	schedule Schedule
	disabled bool
	busy     bool

	nextRun    time.Time
	lastRun    time.Time
	runs       int64
	failures   int64
	lastResult *JobResult
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Scheduler{
		logger:     config.Logger.With("component", "scheduler"),
		timezone:   config.Timezone,
		jobTimeout: config.JobTimeout,
		metrics:    config.Metrics,
		now:        config.Now,
		entries:    make(map[string]*entry),
	}
}

func (s *Scheduler) clock() time.Time {
	return s.now().In(s.timezone)
}

// Register adds a job. Jobs registered on a running scheduler start at once.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	e := &entry{job: job, schedule: schedule, nextRun: schedule.Next(s.clock())}
	s.entries[name] = e
	if s.ctx != nil {
		s.spawn(e)
	}

	s.logger.Info("job registered",
		"job", name,
		"schedule", schedule.String(),
		"next_run", e.nextRun.Format(time.RFC3339),
	)
	return nil
}

// SetEnabled pauses or resumes the scheduled runs of a job. RunNow ignores it.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	e.disabled = !enabled
	s.logger.Info("job toggled", "job", name, "enabled", enabled)
	return nil
}

// Start launches the job loops. They end when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = s.now()
	for _, e := range s.entries {
		s.spawn(e)
	}

	s.logger.Info("scheduler started", "jobs_count", len(s.entries))
	return nil
}

// Stop cancels the loops and in-flight runs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.cancel()
	s.ctx = nil
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("scheduler stopped", "uptime", s.now().Sub(s.startedAt).String())
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx != nil
}

// spawn must be called with mu held.
func (s *Scheduler) spawn(e *entry) {
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, e)
	}()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		s.mu.Lock()
		wait := e.nextRun.Sub(s.clock())
		s.mu.Unlock()

		timer.Reset(max(wait, 0))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		e.nextRun = e.schedule.Next(s.clock())
		claimed := !e.disabled && !e.busy
		if claimed {
			e.busy = true
		} else if e.busy {
			s.logger.Warn("job still running, skipping scheduled run", "job", e.job.Name())
		}
		s.mu.Unlock()

		if claimed {
			s.run(ctx, e, false)
		}
	}
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	case e.busy:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	e.busy = true
	s.mu.Unlock()

	result := s.run(ctx, e, true)
	return &result, result.Error
}

// run executes a claimed entry and releases it.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	log := s.logger.With("job", name, "manual", manual)
	log.Debug("job started")

	result := JobResult{JobName: name, StartedAt: s.now(), Manual: manual}
	result.Error = invoke(ctx, e.job)
	result.CompletedAt = s.now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Success = result.Error == nil

	s.mu.Lock()
	e.busy = false
	e.lastRun = result.StartedAt
	e.runs++
	if !result.Success {
		e.failures++
	}
	e.lastResult = &result
	s.mu.Unlock()

	s.metrics.RecordJobRun(name, result.Success, result.Duration)
	if result.Success {
		log.Info("job completed", "duration", result.Duration.String())
	} else {
		log.Error("job failed", "duration", result.Duration.String(), logger.Err(result.Error))
	}
	return result
}

func invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// JobInfo is a snapshot of a registered job.
type JobInfo struct {
	Name        string
	Description string
	Enabled     bool
	Running     bool
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ListJobs returns every registered job ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Enabled:     !e.disabled,
			Running:     e.busy,
			Schedule:    e.schedule.String(),
			LastRun:     e.lastRun,
			NextRun:     e.nextRun,
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.lastResult,
		})
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}
