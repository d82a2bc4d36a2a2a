package gamification

import (
	"time"

	"github.com/roomies/roomies-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK TRACKER (Серия дней)
// ══════════════════════════════════════════════════════════════════════════════

// DefaultStreakScanDays - ограничение обхода назад; серия не превышает его.
const DefaultStreakScanDays = 365

// StreakTracker вычисляет серию подряд идущих календарных дней с хотя бы
// одной выполненной задачей. Все границы дней берутся в одной зоне Location.
type StreakTracker struct {
	Location *time.Location
	MaxDays  int
}

// NewStreakTracker создаёт трекер. nil-зона означает UTC, maxDays <= 0 -
// значение по умолчанию.
func NewStreakTracker(loc *time.Location, maxDays int) StreakTracker {
	if loc == nil {
		loc = time.UTC
	}
	if maxDays <= 0 {
		maxDays = DefaultStreakScanDays
	}
	return StreakTracker{Location: loc, MaxDays: maxDays}
}

// Streak начинает с календарного дня asOf и идёт назад, пока в каждом дне
// есть выполнение. Если сегодня выполнений нет, серия равна 0.
// Метки позже asOf игнорируются.
func (s StreakTracker) Streak(completions []time.Time, asOf time.Time) int {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	maxDays := s.MaxDays
	if maxDays <= 0 {
		maxDays = DefaultStreakScanDays
	}

	today := timeutil.DayOf(asOf, loc)
	oldest := today.AddDays(-(maxDays - 1))

	active := make(map[timeutil.Day]struct{}, len(completions))
	for _, ts := range completions {
		if ts.IsZero() || ts.After(asOf) {
			continue
		}
		d := timeutil.DayOf(ts, loc)
		if d.Before(oldest) {
			continue
		}
		active[d] = struct{}{}
	}

	streak := 0
	for day := today; streak < maxDays; day = day.AddDays(-1) {
		if _, ok := active[day]; !ok {
			break
		}
		streak++
	}
	return streak
}
