// Package rules holds the rule catalog: typed rule records, the matcher
// abstraction shared by the consistency validator and the validation engine,
// strict catalog decoding, and an atomically swappable catalog store.
package rules

import (
	"fmt"
	"strings"
)

// Category is the closed set of rule categories.
type Category string

const (
	CategoryEssence      Category = "essence"
	CategoryStructure    Category = "structure"
	CategoryCoherence    Category = "coherence"
	CategoryIntegrity    Category = "integrity"
	CategoryLanguageForm Category = "language_form"
)

// AllCategories returns the rule categories in canonical order.
func AllCategories() []Category {
	return []Category{
		CategoryEssence,
		CategoryStructure,
		CategoryCoherence,
		CategoryIntegrity,
		CategoryLanguageForm,
	}
}

// Code returns the rule-ID prefix used by rules of this category.
func (c Category) Code() string {
	switch c {
	case CategoryEssence:
		return "ESS"
	case CategoryStructure:
		return "STR"
	case CategoryCoherence:
		return "CON"
	case CategoryIntegrity:
		return "INT"
	case CategoryLanguageForm:
		return "TAAL"
	default:
		return ""
	}
}

// Label is the Dutch heading used when rendering rules of this category.
func (c Category) Label() string {
	switch c {
	case CategoryEssence:
		return "Essentie"
	case CategoryStructure:
		return "Structuur"
	case CategoryCoherence:
		return "Samenhang"
	case CategoryIntegrity:
		return "Integriteit"
	case CategoryLanguageForm:
		return "Taalvorm"
	default:
		return string(c)
	}
}

// ParseCategory parses a category name. Unknown names are an error.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown rule category %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler so every catalog
// encoding rejects unknown categories.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Severity is the closed set of rule severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AllSeverities returns severities from most to least severe.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// ParseSeverity parses a severity name. Unknown names are an error.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllSeverities() {
		if sev == known {
			return sev, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// OntologicalCategory is the kind of thing a term denotes.
type OntologicalCategory string

const (
	OntoType     OntologicalCategory = "type"
	OntoProcess  OntologicalCategory = "process"
	OntoResult   OntologicalCategory = "result"
	OntoInstance OntologicalCategory = "instance"
	OntoUnknown  OntologicalCategory = "unknown"
)

// AllOntologicalCategories returns every ontological category, unknown last.
func AllOntologicalCategories() []OntologicalCategory {
	return []OntologicalCategory{OntoType, OntoProcess, OntoResult, OntoInstance, OntoUnknown}
}

// Label is the Dutch name of the category as used in instructions.
func (o OntologicalCategory) Label() string {
	switch o {
	case OntoType:
		return "type"
	case OntoProcess:
		return "proces"
	case OntoResult:
		return "resultaat"
	case OntoInstance:
		return "exemplaar"
	default:
		return "onbekend"
	}
}

// ParseOntologicalCategory parses an ontological category name.
func ParseOntologicalCategory(s string) (OntologicalCategory, error) {
	o := OntologicalCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllOntologicalCategories() {
		if o == known {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown ontological category %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OntologicalCategory) UnmarshalText(text []byte) error {
	parsed, err := ParseOntologicalCategory(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
