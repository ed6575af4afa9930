package validation

import (
	"fmt"

	"defgen/internal/config"
	"defgen/internal/rules"
)

// Options configures scoring and the gate.
type Options struct {
	OverallThreshold         float64
	CategoryThresholds       map[rules.Category]float64
	DefaultCategoryThreshold float64
	// CategoryWeights weighs categories in the overall score; missing = 1.
	CategoryWeights map[rules.Category]float64
	// SeverityMultipliers scale the partial credit of a failed rule.
	// Critical failures score 0 whatever is configured.
	SeverityMultipliers map[rules.Severity]float64
	FastFail            bool
	Workers             int
}

// DefaultOptions mirrors the default validation configuration.
func DefaultOptions() Options {
	opts, err := FromConfig(config.DefaultValidationConfig())
	if err != nil {
		panic(err)
	}
	return opts
}

// FromConfig converts the validation section of the configuration.
func FromConfig(cfg config.ValidationConfig) (Options, error) {
	opts := Options{
		OverallThreshold:         cfg.OverallThreshold,
		DefaultCategoryThreshold: cfg.DefaultCategoryThreshold,
		CategoryThresholds:       make(map[rules.Category]float64, len(cfg.CategoryThresholds)),
		CategoryWeights:          make(map[rules.Category]float64, len(cfg.CategoryWeights)),
		SeverityMultipliers:      make(map[rules.Severity]float64, len(cfg.SeverityMultipliers)),
		FastFail:                 cfg.FastFail,
		Workers:                  cfg.Workers,
	}
	for k, v := range cfg.CategoryThresholds {
		cat, err := rules.ParseCategory(k)
		if err != nil {
			return Options{}, fmt.Errorf("category_thresholds: %w", err)
		}
		opts.CategoryThresholds[cat] = v
	}
	for k, v := range cfg.CategoryWeights {
		cat, err := rules.ParseCategory(k)
		if err != nil {
			return Options{}, fmt.Errorf("category_weights: %w", err)
		}
		opts.CategoryWeights[cat] = v
	}
	for k, v := range cfg.SeverityMultipliers {
		sev, err := rules.ParseSeverity(k)
		if err != nil {
			return Options{}, fmt.Errorf("severity_multipliers: %w", err)
		}
		opts.SeverityMultipliers[sev] = v
	}
	return opts, nil
}

// WithCategoryThreshold returns a copy with one category threshold changed.
func (o Options) WithCategoryThreshold(cat rules.Category, threshold float64) Options {
	cp := o
	cp.CategoryThresholds = make(map[rules.Category]float64, len(o.CategoryThresholds)+1)
	for k, v := range o.CategoryThresholds {
		cp.CategoryThresholds[k] = v
	}
	cp.CategoryThresholds[cat] = threshold
	return cp
}

func (o Options) categoryThreshold(cat rules.Category) float64 {
	if t, ok := o.CategoryThresholds[cat]; ok {
		return t
	}
	return o.DefaultCategoryThreshold
}

func (o Options) categoryWeight(cat rules.Category) float64 {
	if w, ok := o.CategoryWeights[cat]; ok && w > 0 {
		return w
	}
	return 1
}

func (o Options) multiplier(sev rules.Severity) float64 {
	if sev == rules.SeverityCritical {
		return 0
	}
	return o.SeverityMultipliers[sev]
}
