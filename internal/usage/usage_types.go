package usage

import (
	"time"

	"github.com/google/uuid"

	"defgen/internal/rules"
)

// Event is emitted once per validated candidate.
type Event struct {
	ID                 string                    `json:"id"`
	Timestamp          time.Time                 `json:"timestamp"`
	RequestID          string                    `json:"request_id,omitempty"`
	Term               string                    `json:"term"`
	Category           rules.OntologicalCategory `json:"category"`
	OverallScore       float64                   `json:"overall_score"`
	IsAcceptable       bool                      `json:"is_acceptable"`
	ContradictionCount int                       `json:"contradiction_count"`
	CriticalFailures   int                       `json:"critical_failures"`
	CatalogVersion     string                    `json:"catalog_version"`
	OverBudget         bool                      `json:"over_budget,omitempty"`
}

// NewEvent returns an event with a fresh id and the current time.
func NewEvent() Event {
	return Event{ID: uuid.NewString(), Timestamp: time.Now().UTC()}
}

// withDefaults fills id and timestamp when the caller left them empty.
func (e Event) withDefaults() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// UsageData is the persisted form of the tracker.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`
}

// AggregatedStats holds outcome counters broken down by dimension.
type AggregatedStats struct {
	Total            OutcomeCounts            `json:"total"`
	ByCategory       map[string]OutcomeCounts `json:"by_category"`
	ByCatalogVersion map[string]OutcomeCounts `json:"by_catalog_version"`
}

// OutcomeCounts sums validation outcomes.
type OutcomeCounts struct {
	Events         int64   `json:"events"`
	Accepted       int64   `json:"accepted"`
	Rejected       int64   `json:"rejected"`
	Contradictions int64   `json:"contradictions"`
	OverBudget     int64   `json:"over_budget"`
	ScoreSum       float64 `json:"score_sum"`
}

// Add folds one event into the counts.
func (oc *OutcomeCounts) Add(ev Event) {
	oc.Events++
	if ev.IsAcceptable {
		oc.Accepted++
	} else {
		oc.Rejected++
	}
	oc.Contradictions += int64(ev.ContradictionCount)
	if ev.OverBudget {
		oc.OverBudget++
	}
	oc.ScoreSum += ev.OverallScore
}

// MeanScore is the average overall score, 0 without events.
func (oc OutcomeCounts) MeanScore() float64 {
	if oc.Events == 0 {
		return 0
	}
	return oc.ScoreSum / float64(oc.Events)
}

// AcceptanceRate is the share of accepted candidates.
func (oc OutcomeCounts) AcceptanceRate() float64 {
	if oc.Events == 0 {
		return 0
	}
	return float64(oc.Accepted) / float64(oc.Events)
}
