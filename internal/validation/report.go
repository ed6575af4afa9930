package validation

import (
	"fmt"

	"defgen/internal/rules"
)

// Status is the outcome of one rule.
type Status string

const (
	StatusPassed        Status = "passed"
	StatusFailed        Status = "failed"
	StatusUnevaluated   Status = "unevaluated"
	StatusNotApplicable Status = "not_applicable"
	StatusSkipped       Status = "skipped"
)

// counts reports whether the status takes part in scoring.
func (s Status) counts() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusUnevaluated
}

// Violation is one directive a rule found unsatisfied.
type Violation struct {
	Directive string `json:"directive"`
	Matcher   string `json:"matcher"`
	Text      string `json:"text,omitempty"`
	Position  int    `json:"position"`
}

// RuleResult is the evaluation of one rule against a candidate text.
type RuleResult struct {
	RuleID   string         `json:"rule_id"`
	Name     string         `json:"name"`
	Category rules.Category `json:"category"`
	Severity rules.Severity `json:"severity"`
	Weight   float64        `json:"weight"`
	Status   Status         `json:"status"`
	Score    float64        `json:"score"`
	// MatchedPattern, MatchedText and Position point at the first violation.
	MatchedPattern string      `json:"matched_pattern,omitempty"`
	MatchedText    string      `json:"matched_text,omitempty"`
	Position       int         `json:"position"`
	Violations     []Violation `json:"violations,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// CategoryScore aggregates the rules of one category.
type CategoryScore struct {
	Category  rules.Category `json:"category"`
	Score     float64        `json:"score"`
	Weight    float64        `json:"weight"`
	Threshold float64        `json:"threshold"`
	// Rules is the number of rules that count towards the score. A category
	// without such rules takes no part in the overall score or the gate.
	Rules  int  `json:"rules"`
	Passed bool `json:"passed"`
}

// Report is the immutable result of validating one candidate text.
type Report struct {
	CatalogVersion   string                    `json:"catalog_version"`
	Category         rules.OntologicalCategory `json:"ontological_category"`
	Results          []RuleResult              `json:"results"`
	Categories       []CategoryScore           `json:"categories"`
	OverallScore     float64                   `json:"overall_score"`
	OverallThreshold float64                   `json:"overall_threshold"`
	CriticalFailures []string                  `json:"critical_failures,omitempty"`
	// UnevaluatedCritical lists critical rules whose matchers errored or
	// timed out. They block acceptance like a failure does.
	UnevaluatedCritical []string `json:"unevaluated_critical,omitempty"`
	IsAcceptable        bool     `json:"is_acceptable"`
	GateExplanation     []string `json:"gate_explanation"`
	FastFail            bool     `json:"fast_fail,omitempty"`
}

// Result returns the result for one rule.
func (r *Report) Result(ruleID string) (RuleResult, bool) {
	for _, res := range r.Results {
		if res.RuleID == ruleID {
			return res, true
		}
	}
	return RuleResult{}, false
}

// CategoryScore returns the aggregate for one category.
func (r *Report) CategoryScore(cat rules.Category) (CategoryScore, bool) {
	for _, cs := range r.Categories {
		if cs.Category == cat {
			return cs, true
		}
	}
	return CategoryScore{}, false
}

// ByStatus returns the results with the given status in catalog order.
func (r *Report) ByStatus(s Status) []RuleResult {
	var out []RuleResult
	for _, res := range r.Results {
		if res.Status == s {
			out = append(out, res)
		}
	}
	return out
}

// Regate returns a copy of the report with the gate decided again under
// different thresholds. Rule results and scores are unchanged.
func (r *Report) Regate(opts Options) *Report {
	cp := *r
	cp.Results = append([]RuleResult(nil), r.Results...)
	cp.Categories = append([]CategoryScore(nil), r.Categories...)
	cp.CriticalFailures = append([]string(nil), r.CriticalFailures...)
	cp.UnevaluatedCritical = append([]string(nil), r.UnevaluatedCritical...)
	for i := range cp.Categories {
		cp.Categories[i].Threshold = opts.categoryThreshold(cp.Categories[i].Category)
	}
	cp.OverallThreshold = opts.OverallThreshold
	cp.IsAcceptable, cp.GateExplanation = Gate(cp.Categories, cp.OverallScore, cp.OverallThreshold, cp.CriticalFailures, cp.UnevaluatedCritical)
	for i := range cp.Categories {
		cs := &cp.Categories[i]
		cs.Passed = cs.Rules == 0 || cs.Score >= cs.Threshold
	}
	return &cp
}

// Gate decides acceptance: no critical rule failed or left unevaluated,
// overall score at or above its threshold, and every scored category at or
// above its own threshold. It is a pure function of its inputs.
func Gate(categories []CategoryScore, overall, overallThreshold float64, critical, unevaluated []string) (bool, []string) {
	var reasons []string
	if len(critical) > 0 {
		reasons = append(reasons, fmt.Sprintf("critical rule(s) failed: %v", critical))
	}
	if len(unevaluated) > 0 {
		reasons = append(reasons, fmt.Sprintf("critical rule(s) could not be evaluated: %v", unevaluated))
	}
	if overall < overallThreshold {
		reasons = append(reasons, fmt.Sprintf("overall score %.3f below threshold %.3f", overall, overallThreshold))
	}
	for _, cs := range categories {
		if cs.Rules > 0 && cs.Score < cs.Threshold {
			reasons = append(reasons, fmt.Sprintf("category %s score %.3f below threshold %.3f", cs.Category, cs.Score, cs.Threshold))
		}
	}
	if len(reasons) == 0 {
		return true, []string{fmt.Sprintf("accepted: overall score %.3f, no critical failures", overall)}
	}
	return false, reasons
}
