package scheduler

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULES
// ══════════════════════════════════════════════════════════════════════════════

// ParseSchedule accepts "@every <duration>" or a 5-field cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", rest)
		}
		return NewIntervalSchedule(d), nil
	}
	return ParseCronExpression(spec)
}

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// CronExpression represents a parsed cron expression.
// Supports standard 5-field format: minute hour day-of-month month day-of-week
// Examples:
//   - "*/15 * * * *" - every 15 minutes
//   - "0 3 * * *"    - every day at 03:00
type CronExpression struct {
	raw      string
	minutes  []int // 0-59
	hours    []int // 0-23
	days     []int // 1-31
	months   []int // 1-12
	weekdays []int // 0-6 (0 = Sunday)
}

// ParseCronExpression parses a cron expression string.
// Format: minute hour day-of-month month day-of-week
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	ce := &CronExpression{raw: expr}
	specs := []struct {
		name     string
		min, max int
		dst      *[]int
	}{
		{"minute", 0, 59, &ce.minutes},
		{"hour", 0, 23, &ce.hours},
		{"day", 1, 31, &ce.days},
		{"month", 1, 12, &ce.months},
		{"weekday", 0, 6, &ce.weekdays},
	}
	for i, spec := range specs {
		values, err := parseField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", spec.name, err)
		}
		*spec.dst = values
	}

	return ce, nil
}

// parseField parses a comma-separated cron field. Each element is "*", "n"
// or "n-m", optionally followed by "/step".
func parseField(field string, min, max int) ([]int, error) {
	seen := make(map[int]struct{})
	for _, part := range strings.Split(field, ",") {
		values, err := parseFieldPart(strings.TrimSpace(part), min, max)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			seen[v] = struct{}{}
		}
	}

	result := make([]int, 0, len(seen))
	for v := range seen {
		result = append(result, v)
	}
	sort.Ints(result)
	return result, nil
}

func parseFieldPart(part string, min, max int) ([]int, error) {
	base, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		var err error
		step, err = strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step value: %s", stepStr)
		}
	}

	var start, end int
	switch {
	case base == "*":
		start, end = min, max
	case strings.Contains(base, "-"):
		lo, hi, _ := strings.Cut(base, "-")
		var err error
		if start, err = strconv.Atoi(lo); err != nil {
			return nil, fmt.Errorf("invalid range start: %s", lo)
		}
		if end, err = strconv.Atoi(hi); err != nil {
			return nil, fmt.Errorf("invalid range end: %s", hi)
		}
	default:
		v, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid value: %s", base)
		}
		start, end = v, v
		if hasStep {
			end = max
		}
	}

	if start < min || end > max || start > end {
		return nil, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}

	result := make([]int, 0, (end-start)/step+1)
	for i := start; i <= end; i += step {
		result = append(result, i)
	}
	return result, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next calculates the next time the cron expression matches after the
// given time, in the location of after. Zero if nothing matches within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(1, 0, 0)

	for t.Before(limit) {
		if !slices.Contains(ce.months, int(t.Month())) ||
			!slices.Contains(ce.days, t.Day()) ||
			!slices.Contains(ce.weekdays, int(t.Weekday())) {
			y, m, d := t.Date()
			t = time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !slices.Contains(ce.hours, t.Hour()) {
			y, m, d := t.Date()
			t = time.Date(y, m, d, t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if slices.Contains(ce.minutes, t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}

	return time.Time{}
}
