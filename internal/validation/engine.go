// Package validation scores a candidate definition against the rule
// catalog and decides whether it is acceptable.
package validation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"defgen/internal/logging"
	"defgen/internal/rules"
)

// RuleEvaluationError reports a rule whose matchers could not be evaluated.
// The rule is marked unevaluated and scores zero.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

// Error implements the error interface.
func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s could not be evaluated: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// Engine evaluates candidate texts. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	opts Options
}

// NewEngine creates an engine with the given options.
func NewEngine(opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Engine{opts: opts}
}

// Options returns the engine options.
func (e *Engine) Options() Options { return e.opts }

// Evaluate validates text with the engine options.
func (e *Engine) Evaluate(ctx context.Context, text string, catalog *rules.Catalog, category rules.OntologicalCategory) (*Report, error) {
	return e.EvaluateWith(ctx, text, catalog, category, e.opts)
}

// EvaluateWith validates text with explicit options. The result depends
// only on text, catalog version, category and options.
func (e *Engine) EvaluateWith(ctx context.Context, text string, catalog *rules.Catalog, category rules.OntologicalCategory, opts Options) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryValidation, "Engine.Evaluate")
	defer timer.Stop()

	if catalog == nil {
		return nil, errors.New("evaluate: catalog is nil")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	rs := catalog.Rules()
	results := make([]RuleResult, len(rs))

	if opts.FastFail {
		critical := false
		for i, r := range rs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if critical {
				results[i] = baseResult(r, StatusSkipped)
				continue
			}
			results[i] = evaluateRule(r, text, category, opts)
			if blocksCritical(results[i]) {
				critical = true
				logging.ValidationDebug("Fast-fail after critical rule %s", r.ID)
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i, r := range rs {
			i, r := i, r
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = evaluateRule(r, text, category, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	report := aggregate(results, opts)
	report.CatalogVersion = catalog.Version()
	report.Category = category
	report.FastFail = opts.FastFail

	logging.Validation("Validated candidate (%s, catalog %s): overall=%.3f acceptable=%v critical=%d unevaluated_critical=%d",
		category, catalog.Version(), report.OverallScore, report.IsAcceptable, len(report.CriticalFailures), len(report.UnevaluatedCritical))
	return report, nil
}

// blocksCritical reports whether a critical rule failed or could not be
// evaluated; either rejects the candidate.
func blocksCritical(res RuleResult) bool {
	return res.Severity == rules.SeverityCritical &&
		(res.Status == StatusFailed || res.Status == StatusUnevaluated)
}

func baseResult(r *rules.Rule, s Status) RuleResult {
	return RuleResult{
		RuleID:   r.ID,
		Name:     r.Name,
		Category: r.Category,
		Severity: r.Severity,
		Weight:   r.Weight,
		Status:   s,
		Position: -1,
	}
}

// evaluateRule checks every directive of one rule. Matcher errors and
// panics make the rule unevaluated.
func evaluateRule(r *rules.Rule, text string, category rules.OntologicalCategory, opts Options) (res RuleResult) {
	if !r.AppliesToCategory(category) {
		return baseResult(r, StatusNotApplicable)
	}
	res = baseResult(r, StatusPassed)

	unevaluated := func(err error) RuleResult {
		out := baseResult(r, StatusUnevaluated)
		evalErr := &RuleEvaluationError{RuleID: r.ID, Err: err}
		out.Error = evalErr.Error()
		logging.Get(logging.CategoryValidation).Warn("%v", evalErr)
		return out
	}
	defer func() {
		if p := recover(); p != nil {
			res = unevaluated(fmt.Errorf("panic: %v", p))
		}
	}()

	total, satisfied := r.MatcherCount(), 0
	violate := func(v Violation) {
		if len(res.Violations) == 0 {
			res.MatchedPattern = v.Matcher
			res.MatchedText = v.Text
			res.Position = v.Position
		}
		res.Violations = append(res.Violations, v)
	}

	for i := range r.Required {
		m := &r.Required[i]
		found, err := m.Find(text)
		if err != nil {
			return unevaluated(err)
		}
		if found.Found {
			satisfied++
			continue
		}
		violate(Violation{Directive: "required", Matcher: m.String(), Position: -1})
	}

	for i := range r.Forbidden {
		m := &r.Forbidden[i]
		found, err := m.Find(text)
		if err != nil {
			return unevaluated(err)
		}
		if !found.Found {
			satisfied++
			continue
		}
		exempt, err := exempted(r, *m, text, category)
		if err != nil {
			return unevaluated(err)
		}
		if exempt {
			satisfied++
			continue
		}
		violate(Violation{Directive: "forbidden", Matcher: m.String(), Text: found.Text, Position: found.Position})
	}

	if satisfied == total {
		res.Score = 1
		return res
	}
	res.Status = StatusFailed
	res.Score = float64(satisfied) / float64(total) * opts.multiplier(r.Severity)
	return res
}

func exempted(r *rules.Rule, m rules.Matcher, text string, category rules.OntologicalCategory) (bool, error) {
	for _, e := range r.ExceptionsFor(m) {
		holds, err := e.Condition.Holds(text, category)
		if err != nil {
			return false, err
		}
		if holds {
			return true, nil
		}
	}
	return false, nil
}

// aggregate reduces rule results in catalog order, so the report is the
// same however the rules were scheduled.
func aggregate(results []RuleResult, opts Options) *Report {
	report := &Report{Results: results, OverallThreshold: opts.OverallThreshold}

	type acc struct {
		weighted, weights float64
		n                 int
	}
	sums := make(map[rules.Category]*acc)
	for _, res := range results {
		if res.Severity == rules.SeverityCritical {
			switch res.Status {
			case StatusFailed:
				report.CriticalFailures = append(report.CriticalFailures, res.RuleID)
			case StatusUnevaluated:
				report.UnevaluatedCritical = append(report.UnevaluatedCritical, res.RuleID)
			}
		}
		if !res.Status.counts() {
			continue
		}
		a := sums[res.Category]
		if a == nil {
			a = &acc{}
			sums[res.Category] = a
		}
		a.weighted += res.Weight * res.Score
		a.weights += res.Weight
		a.n++
	}

	var overallWeighted, overallWeights float64
	for _, cat := range rules.AllCategories() {
		cs := CategoryScore{
			Category:  cat,
			Weight:    opts.categoryWeight(cat),
			Threshold: opts.categoryThreshold(cat),
			Score:     1,
		}
		if a := sums[cat]; a != nil && a.weights > 0 {
			cs.Score = a.weighted / a.weights
			cs.Rules = a.n
			overallWeighted += cs.Weight * cs.Score
			overallWeights += cs.Weight
		}
		cs.Passed = cs.Rules == 0 || cs.Score >= cs.Threshold
		report.Categories = append(report.Categories, cs)
	}
	if overallWeights > 0 {
		report.OverallScore = overallWeighted / overallWeights
	}

	report.IsAcceptable, report.GateExplanation = Gate(report.Categories, report.OverallScore, report.OverallThreshold, report.CriticalFailures, report.UnevaluatedCritical)
	return report
}
