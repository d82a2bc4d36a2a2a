package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports the state of the service and its dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc probes one dependency.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health.
type HealthStatus struct {
	// Healthy and Ready are false when a critical check failed.
	Healthy bool `json:"healthy"`
	Ready   bool `json:"ready"`

	// Degraded is set when an optional check failed.
	Degraded bool `json:"degraded,omitempty"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

const defaultCheckTimeout = 5 * time.Second

type namedCheck struct {
	name     string
	fn       HealthCheckFunc
	optional bool
}

// CompositeHealthChecker runs named checks concurrently, each under its own
// timeout. Registering a name twice replaces the earlier check.
type CompositeHealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks []namedCheck
}

// NewCompositeHealthChecker creates a checker that reports version.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: defaultCheckTimeout,
	}
}

// AddCheck registers a critical check: its failure makes the service
// unhealthy and not ready.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.add(namedCheck{name: name, fn: fn})
}

// AddOptionalCheck registers a check whose failure only marks the service
// degraded. The Redis analytics cache is one: analytics fall back to the
// in-process cache.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.add(namedCheck{name: name, fn: fn, optional: true})
}

func (c *CompositeHealthChecker) add(nc namedCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks = slices.DeleteFunc(c.checks, func(existing namedCheck) bool { return existing.name == nc.name })
	c.checks = append(c.checks, nc)
}

// Check runs every check and folds the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	c.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, nc := range checks {
		g.Go(func() error {
			results[i] = c.run(ctx, nc)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var failed, degraded []string
	for i, nc := range checks {
		status.Checks[nc.name] = results[i]
		switch {
		case results[i].Healthy:
		case nc.optional:
			degraded = append(degraded, nc.name)
		default:
			failed = append(failed, nc.name)
		}
	}
	slices.Sort(failed)
	slices.Sort(degraded)

	status.Degraded = len(degraded) > 0
	switch {
	case len(checks) == 0:
		status.Message = "No health checks registered"
	case len(failed) > 0:
		status.Healthy = false
		status.Ready = false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	case status.Degraded:
		status.Message = "Degraded: " + strings.Join(degraded, ", ")
	default:
		status.Message = "All checks passed"
	}
	return status
}

func (c *CompositeHealthChecker) run(ctx context.Context, nc namedCheck) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := nc.fn(ctx)

	result := CheckResult{
		Healthy:  err == nil,
		Optional: nc.optional,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}
