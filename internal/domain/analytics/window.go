package analytics

import (
	"fmt"
	"time"

	"github.com/roomies/roomies-hub/internal/domain/shared"
	"github.com/roomies/roomies-hub/pkg/timeutil"
)

const (
	// DefaultWindowDays - окно по умолчанию.
	DefaultWindowDays = 30
	// MaxWindowDays - максимальная длина окна.
	MaxWindowDays = 366
)

// Window - окно аналитики из Days полных календарных дней в зоне Location,
// заканчивающееся днём asOf включительно: [Start, End).
type Window struct {
	Start    time.Time
	End      time.Time
	Days     int
	Location *time.Location
}

// NewWindow строит окно из days дней, последний из которых - день asOf.
func NewWindow(days int, asOf time.Time, loc *time.Location) (Window, error) {
	if days < 1 || days > MaxWindowDays {
		return Window{}, shared.ErrInvalidWindow
	}
	if loc == nil {
		loc = time.UTC
	}
	today := timeutil.DayOf(asOf, loc)
	return Window{
		Start:    today.AddDays(-(days - 1)).Start(loc),
		End:      today.AddDays(1).Start(loc),
		Days:     days,
		Location: loc,
	}, nil
}

// Range возвращает окно как полуоткрытый интервал.
func (w Window) Range() shared.TimeRange {
	return shared.TimeRange{From: w.Start, To: w.End}
}

// Key - стабильный ключ кэша в пределах одного календарного дня.
func (w Window) Key() string {
	return fmt.Sprintf("%dd:%s:%s", w.Days, timeutil.DayOf(w.Start, w.loc()), w.loc().String())
}

// ClampAsOf ограничивает момент "сейчас" границами окна.
func (w Window) ClampAsOf(now time.Time) time.Time {
	if now.Before(w.Start) {
		return w.Start
	}
	if !now.Before(w.End) {
		return w.End.Add(-time.Nanosecond)
	}
	return now
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}
