package config

import "fmt"

// ValidationConfig configures rule scoring and the acceptance gate.
type ValidationConfig struct {
	// Minimum weighted overall score for acceptance.
	OverallThreshold float64 `yaml:"overall_threshold" validate:"gte=0,lte=1"`

	// Minimum score per rule category. Missing categories use DefaultCategoryThreshold.
	CategoryThresholds map[string]float64 `yaml:"category_thresholds" validate:"dive,keys,oneof=essence structure coherence integrity language_form,endkeys,gte=0,lte=1"`

	DefaultCategoryThreshold float64 `yaml:"default_category_threshold" validate:"gte=0,lte=1"`

	// Relative weight of each category in the overall score. Missing = 1.
	CategoryWeights map[string]float64 `yaml:"category_weights" validate:"dive,keys,oneof=essence structure coherence integrity language_form,endkeys,gt=0"`

	// Fraction of the satisfied-matcher score kept when a rule fails.
	// Critical failures always score 0.
	SeverityMultipliers map[string]float64 `yaml:"severity_multipliers" validate:"dive,keys,oneof=critical high medium low,endkeys,gte=0,lte=1"`

	// Stop after the first critical failure.
	FastFail bool `yaml:"fast_fail"`

	Workers int `yaml:"workers" validate:"gte=1"`
}

// DefaultValidationConfig returns the default gate configuration.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		OverallThreshold: 0.75,
		CategoryThresholds: map[string]float64{
			"essence":       0.6,
			"structure":     0.6,
			"coherence":     0.5,
			"integrity":     0.5,
			"language_form": 0.5,
		},
		DefaultCategoryThreshold: 0.5,
		CategoryWeights: map[string]float64{
			"essence":       1.5,
			"structure":     1.25,
			"coherence":     1.0,
			"integrity":     1.0,
			"language_form": 0.75,
		},
		SeverityMultipliers: map[string]float64{
			"critical": 0,
			"high":     0.25,
			"medium":   0.5,
			"low":      0.75,
		},
		Workers: 8,
	}
}

func (v ValidationConfig) check() error {
	if m, ok := v.SeverityMultipliers["critical"]; ok && m != 0 {
		return fmt.Errorf("invalid config: severity_multipliers.critical must be 0, got %v", m)
	}
	return nil
}
