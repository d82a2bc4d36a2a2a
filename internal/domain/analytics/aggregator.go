package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/gamification"
	"github.com/roomies/roomies-hub/internal/domain/household"
	"github.com/roomies/roomies-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS
// ══════════════════════════════════════════════════════════════════════════════

// Options - настраиваемые пороги агрегатора.
type Options struct {
	// HighValueThreshold - задача с PointValue не ниже порога считается ценной.
	HighValueThreshold int

	// OverdueAlertThreshold - рекомендация о просрочке при overdueCount > порога.
	OverdueAlertThreshold int

	// LowCompletionRate - рекомендация при общей доле ниже порога.
	LowCompletionRate float64

	// MinTasksForRateAdvice - минимум задач для рекомендации по доле.
	MinTasksForRateAdvice int

	// StreakScanDays - ограничение обхода серии.
	StreakScanDays int

	// PredictionsEnabled включает секцию прогнозов.
	PredictionsEnabled bool

	// OnDataQuality вызывается для каждого неконечного значения.
	OnDataQuality func(householdID, field string, value float64)
}

// DefaultOptions возвращает пороги по умолчанию.
func DefaultOptions() Options {
	return Options{
		HighValueThreshold:    50,
		OverdueAlertThreshold: 5,
		LowCompletionRate:     0.5,
		MinTasksForRateAdvice: 5,
		StreakScanDays:        gamification.DefaultStreakScanDays,
		PredictionsEnabled:    true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// Aggregator строит снимки аналитики.
type Aggregator struct {
	categorizer *Categorizer
	opts        Options
}

// NewAggregator создаёт агрегатор. nil-категоризатор - таблица по умолчанию.
func NewAggregator(categorizer *Categorizer, opts Options) *Aggregator {
	if categorizer == nil {
		categorizer = NewCategorizer(nil)
	}
	if opts.StreakScanDays <= 0 {
		opts.StreakScanDays = gamification.DefaultStreakScanDays
	}
	return &Aggregator{categorizer: categorizer, opts: opts}
}

// Aggregate вычисляет снимок по задачам и участникам домохозяйства.
// В расчёт входят задачи, созданные или выполненные внутри окна.
// now - момент генерации; внутри окна он служит точкой отсчёта для
// просрочки и серий.
func (a *Aggregator) Aggregate(householdID string, w Window, tasks []*household.Task, users []*household.User, now time.Time) Snapshot {
	loc := w.loc()
	asOf := w.ClampAsOf(now)
	g := &guard{householdID: householdID, hook: a.opts.OnDataQuality}

	scope := inScope(tasks, w)

	snap := Snapshot{
		HouseholdID: householdID,
		GeneratedAt: now,
		Window:      infoOf(w),
	}
	snap.CompletionRates = a.completionRates(scope, w, asOf, g)
	snap.ProductivityTrend = a.productivityTrend(scope, w, loc, g)
	snap.UserPerformance = a.userPerformance(scope, users, w, asOf, loc, g)
	snap.TaskDistribution = a.distribution(scope, g)
	snap.TimeAnalysis = a.timeAnalysis(scope, w, loc)
	snap.Predictions = a.predictions(scope, snap.CompletionRates, snap.TimeAnalysis, g)
	snap.Warnings = g.warnings

	return snap
}

func inScope(tasks []*household.Task, w Window) []*household.Task {
	r := w.Range()
	out := make([]*household.Task, 0, len(tasks))
	for _, t := range tasks {
		if t == nil {
			continue
		}
		if r.Contains(t.CreatedAt) || t.CompletedWithin(r) {
			out = append(out, t)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Completion rates
// ─────────────────────────────────────────────────────────────────────────────

func (a *Aggregator) completionRates(scope []*household.Task, w Window, asOf time.Time, g *guard) CompletionRates {
	r := w.Range()
	var (
		completed, withDue, onTime, overdue int
		durationSum                         float64
		durationCount                       int
	)
	for _, t := range scope {
		if t.CompletedWithin(r) {
			completed++
			if ok, applicable := t.CompletedOnTime(); applicable {
				withDue++
				if ok {
					onTime++
				}
			}
			if d, ok := t.CompletionDuration(); ok {
				durationSum += d.Seconds()
				durationCount++
			}
		}
		if t.IsOverdue(asOf) {
			overdue++
		}
	}

	rates := CompletionRates{
		Total:        len(scope),
		Completed:    completed,
		OverdueCount: overdue,
		OnTime:       1.0,
	}
	if rates.Total > 0 {
		rates.Overall = g.rate("completion_rates.overall", float64(completed)/float64(rates.Total))
		rates.Overdue = g.rate("completion_rates.overdue", float64(overdue)/float64(rates.Total))
	}
	if withDue > 0 {
		rates.OnTime = g.rate("completion_rates.on_time", float64(onTime)/float64(withDue))
	}
	if durationCount > 0 {
		mean := durationSum / float64(durationCount)
		rates.AverageCompletionSeconds = g.amount("completion_rates.average_completion_seconds", mean)
	}
	return rates
}

// ─────────────────────────────────────────────────────────────────────────────
// Productivity trend
// ─────────────────────────────────────────────────────────────────────────────

func (a *Aggregator) productivityTrend(scope []*household.Task, w Window, loc *time.Location, g *guard) []DayBucket {
	days := timeutil.DaysInRange(w.Start, w.End, loc)
	index := make(map[timeutil.Day]int, len(days))
	buckets := make([]DayBucket, len(days))
	for i, d := range days {
		index[d] = i
		buckets[i] = DayBucket{Date: d.String()}
	}

	r := w.Range()
	for _, t := range scope {
		if !t.CompletedWithin(r) {
			continue
		}
		i, ok := index[timeutil.DayOf(*t.CompletedAt, loc)]
		if !ok {
			continue
		}
		buckets[i].TasksCompleted++
		buckets[i].PointsEarned += t.PointValue
	}

	for i := range buckets {
		if buckets[i].TasksCompleted > 0 {
			avg := float64(buckets[i].PointsEarned) / float64(buckets[i].TasksCompleted)
			buckets[i].AverageTaskValue = g.value("productivity_trend.average_task_value", avg)
		}
	}
	return buckets
}

// ─────────────────────────────────────────────────────────────────────────────
// User performance
// ─────────────────────────────────────────────────────────────────────────────

func (a *Aggregator) userPerformance(scope []*household.Task, users []*household.User, w Window, asOf time.Time, loc *time.Location, g *guard) []UserPerformance {
	r := w.Range()
	tracker := gamification.NewStreakTracker(loc, a.opts.StreakScanDays)

	type acc struct {
		assigned, assignedDone, completed, points int
		completions                               []time.Time
	}
	stats := make(map[string]*acc, len(users))
	for _, u := range users {
		if u != nil {
			stats[u.ID] = &acc{}
		}
	}

	for _, t := range scope {
		if s, ok := stats[t.AssignedUserID]; ok {
			s.assigned++
			if t.CompletedWithin(r) {
				s.assignedDone++
			}
		}
		if !t.CompletedWithin(r) {
			continue
		}
		if s, ok := stats[t.Performer()]; ok {
			s.completed++
			s.points += t.PointValue
			s.completions = append(s.completions, *t.CompletedAt)
		}
	}

	out := make([]UserPerformance, 0, len(stats))
	for _, u := range users {
		if u == nil {
			continue
		}
		s := stats[u.ID]
		p := UserPerformance{
			UserID:         u.ID,
			DisplayName:    u.DisplayName,
			TasksAssigned:  s.assigned,
			TasksCompleted: s.completed,
			PointsEarned:   s.points,
			Streak:         tracker.Streak(s.completions, asOf),
		}
		if s.assigned > 0 {
			p.CompletionRate = g.rate("user_performance.completion_rate", float64(s.assignedDone)/float64(s.assigned))
		}
		if w.Days > 0 {
			p.AverageTasksPerDay = g.amount("user_performance.average_tasks_per_day", float64(s.completed)/float64(w.Days))
		}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PointsEarned != out[j].PointsEarned {
			return out[i].PointsEarned > out[j].PointsEarned
		}
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Distribution
// ─────────────────────────────────────────────────────────────────────────────

func (a *Aggregator) distribution(scope []*household.Task, g *guard) TaskDistribution {
	d := NewDistribution()
	sum := 0
	for _, t := range scope {
		d.ByPriority[household.ParsePriority(string(t.Priority))]++
		d.ByRecurrence[household.ParseRecurrence(string(t.Recurrence))]++
		d.ByCategory[a.categorizer.Categorize(t.Title)]++
		sum += t.PointValue
	}
	if len(scope) > 0 {
		d.AveragePointValue = g.value("task_distribution.average_point_value", float64(sum)/float64(len(scope)))
	}
	return d
}

// ─────────────────────────────────────────────────────────────────────────────
// Time analysis
// ─────────────────────────────────────────────────────────────────────────────

func (a *Aggregator) timeAnalysis(scope []*household.Task, w Window, loc *time.Location) TimeAnalysis {
	var ta TimeAnalysis
	r := w.Range()
	for _, t := range scope {
		if !t.CompletedWithin(r) {
			continue
		}
		lt := t.CompletedAt.In(loc)
		ta.ByHour[lt.Hour()]++
		ta.ByWeekday[int(lt.Weekday())]++
		ta.HasActivity = true
	}
	ta.PeakHour = argMax(ta.ByHour[:])
	ta.PeakWeekday = argMax(ta.ByWeekday[:])
	return ta
}

// argMax возвращает индекс максимума; при равенстве побеждает меньший индекс.
func argMax(values []int) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// ══════════════════════════════════════════════════════════════════════════════
// FINITENESS GUARD
// ══════════════════════════════════════════════════════════════════════════════

type guard struct {
	householdID string
	hook        func(householdID, field string, value float64)
	warnings    []string
}

// value заменяет NaN и бесконечности нулём и отмечает предупреждение.
func (g *guard) value(field string, v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		g.warnings = append(g.warnings, "non-finite value replaced with 0: "+field)
		if g.hook != nil {
			g.hook(g.householdID, field, v)
		}
		return 0
	}
	return v
}

// amount отсекает отрицательные значения величин, которые не могут быть
// меньше нуля (длительности, средние по счётчикам).
func (g *guard) amount(field string, v float64) float64 {
	v = g.value(field, v)
	if v < 0 {
		g.warnings = append(g.warnings, "negative value replaced with 0: "+field)
		if g.hook != nil {
			g.hook(g.householdID, field, v)
		}
		return 0
	}
	return v
}

// rate дополнительно ограничивает долю отрезком [0,1].
func (g *guard) rate(field string, v float64) float64 {
	v = g.value(field, v)
	return math.Max(0, math.Min(1, v))
}
