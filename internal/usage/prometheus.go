package usage

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusSink exposes events as metrics.
type PrometheusSink struct {
	validations    *prometheus.CounterVec
	scores         *prometheus.HistogramVec
	contradictions prometheus.Counter
	critical       *prometheus.CounterVec
	overBudget     *prometheus.CounterVec
}

// NewPrometheusSink registers the metrics with reg, or with the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusSink{
		validations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "defgen_validations_total",
			Help: "Validated candidate definitions by ontological category and gate outcome",
		}, []string{"category", "acceptable"}),
		scores: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "defgen_validation_overall_score",
			Help:    "Overall validation score of candidate definitions",
			Buckets: []float64{0.1, 0.25, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1},
		}, []string{"category"}),
		contradictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "defgen_instruction_contradictions_total",
			Help: "Contradictions found in assembled instruction sets",
		}),
		critical: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "defgen_critical_failures_total",
			Help: "Critical rule failures by ontological category",
		}, []string{"category"}),
		overBudget: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "defgen_instructions_over_budget_total",
			Help: "Validated candidates whose instruction exceeded the token budget, by ontological category",
		}, []string{"category"}),
	}, nil
}

// Record updates the metrics.
func (s *PrometheusSink) Record(_ context.Context, ev Event) error {
	cat := string(ev.Category)
	s.validations.WithLabelValues(cat, strconv.FormatBool(ev.IsAcceptable)).Inc()
	s.scores.WithLabelValues(cat).Observe(ev.OverallScore)
	s.contradictions.Add(float64(ev.ContradictionCount))
	s.critical.WithLabelValues(cat).Add(float64(ev.CriticalFailures))
	if ev.OverBudget {
		s.overBudget.WithLabelValues(cat).Inc()
	}
	return nil
}

// Close is a no-op; registered metrics stay registered.
func (s *PrometheusSink) Close() error { return nil }
