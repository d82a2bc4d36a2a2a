// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"strings"
	"time"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// MaxIDLength bounds every identifier accepted from callers.
const MaxIDLength = 128

// ValidID reports whether s can be used as a user, task or household identifier.
// Identifiers are opaque (UUIDs in practice) but must be non-empty, bounded and
// free of whitespace and control characters.
func ValidID(s string) bool {
	if s == "" || len(s) > MaxIDLength {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// NormalizeID trims surrounding whitespace.
func NormalizeID(s string) string {
	return strings.TrimSpace(s)
}

// ═══════════════════════════════════════════════════════════════════════════
// Points Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Points is a user's point balance.
type Points int

const (
	// MinPoints is the clamp floor: a balance never goes below it.
	MinPoints Points = 0

	// MaxPoints caps the balance so that level math and storage stay in range.
	MaxPoints Points = 1_000_000_000
)

// IsValid checks if the balance is within the valid range.
func (p Points) IsValid() bool {
	return p >= MinPoints && p <= MaxPoints
}

// Int returns the underlying int value.
func (p Points) Int() int {
	return int(p)
}

// Apply adds a signed delta and clamps the result to [MinPoints, MaxPoints].
func (p Points) Apply(delta int) Points {
	result := int64(p) + int64(delta)
	if result < int64(MinPoints) {
		return MinPoints
	}
	if result > int64(MaxPoints) {
		return MaxPoints
	}
	return Points(result)
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a half-open time period [From, To).
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && t.From.Before(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return !tm.Before(t.From) && tm.Before(t.To)
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}
