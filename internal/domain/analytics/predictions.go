package analytics

import (
	"fmt"

	"github.com/roomies/roomies-hub/internal/domain/household"
)

// DefaultRecommendation - сообщение, когда ни одно предупреждающее правило
// не сработало.
const DefaultRecommendation = "Great teamwork! Keep up the good work."

// recommendationInput - данные, доступные правилам.
type recommendationInput struct {
	rates         CompletionRates
	time          TimeAnalysis
	highValueOpen int
	highValuePts  int
	opts          Options
}

// rule возвращает рекомендацию и признак предупреждения.
type rule func(in recommendationInput) (msg string, warning bool, ok bool)

// recommendationRules - упорядоченный список правил.
var recommendationRules = []rule{
	func(in recommendationInput) (string, bool, bool) {
		if in.rates.OverdueCount > in.opts.OverdueAlertThreshold {
			return fmt.Sprintf("%d tasks are overdue - consider redistributing them.", in.rates.OverdueCount), true, true
		}
		return "", false, false
	},
	func(in recommendationInput) (string, bool, bool) {
		if in.highValueOpen > 0 {
			return fmt.Sprintf("Focus on %d high-value tasks worth %d points.", in.highValueOpen, in.highValuePts), true, true
		}
		return "", false, false
	},
	func(in recommendationInput) (string, bool, bool) {
		if in.rates.Total >= in.opts.MinTasksForRateAdvice && in.rates.Overall < in.opts.LowCompletionRate {
			return fmt.Sprintf("Only %.0f%% of tasks are done - try splitting chores into smaller steps.", in.rates.Overall*100), true, true
		}
		return "", false, false
	},
	func(in recommendationInput) (string, bool, bool) {
		if in.time.HasActivity {
			return fmt.Sprintf("Your household is most productive around %02d:00 - plan important chores then.", in.time.PeakHour), false, true
		}
		return "", false, false
	},
}

func (a *Aggregator) predictions(scope []*household.Task, rates CompletionRates, ta TimeAnalysis, g *guard) Predictions {
	if !a.opts.PredictionsEnabled {
		return Predictions{Recommendations: []string{}}
	}

	in := recommendationInput{rates: rates, time: ta, opts: a.opts}
	pending := 0
	for _, t := range scope {
		if t.IsCompleted {
			continue
		}
		pending++
		if t.PointValue >= a.opts.HighValueThreshold {
			in.highValueOpen++
			in.highValuePts += t.PointValue
		}
	}

	p := Predictions{
		Enabled:                    true,
		PendingCount:               pending,
		EstimatedCompletionSeconds: g.amount("predictions.estimated_completion_seconds", float64(pending)*rates.AverageCompletionSeconds),
		Recommendations:            []string{},
	}

	warned := false
	for _, r := range recommendationRules {
		if msg, warning, ok := r(in); ok {
			p.Recommendations = append(p.Recommendations, msg)
			warned = warned || warning
		}
	}
	if !warned {
		p.Recommendations = append(p.Recommendations, DefaultRecommendation)
	}
	return p
}
