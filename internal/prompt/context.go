package prompt

import (
	"encoding/json"
	"fmt"
	"slices"

	"defgen/internal/classify"
	"defgen/internal/rules"
)

// ModuleContext is the read-only input shared by every module in a run.
type ModuleContext struct {
	Term       string                    `json:"term"`
	Category   rules.OntologicalCategory `json:"category"`
	Confidence float64                   `json:"confidence"`
	Complexity float64                   `json:"complexity"`
	Fields     classify.Fields           `json:"fields"`
}

// NewModuleContext builds a context from a term, its raw fields and the
// classifier result.
func NewModuleContext(term string, fields classify.Fields, res classify.Result) *ModuleContext {
	return &ModuleContext{
		Term:       term,
		Category:   res.Category,
		Confidence: res.Confidence,
		Complexity: res.Complexity,
		Fields:     cloneFields(fields),
	}
}

// Has reports whether a context field carries content.
func (mc *ModuleContext) Has(f classify.Field) bool {
	return mc.Fields.Has(f)
}

// HasAnyContext reports whether any optional field is present.
func (mc *ModuleContext) HasAnyContext() bool {
	for _, f := range classify.AllFields() {
		if mc.Has(f) {
			return true
		}
	}
	return false
}

// Fingerprint identifies the context for caching.
func (mc *ModuleContext) Fingerprint() string {
	data, err := json.Marshal(mc)
	if err != nil {
		return ""
	}
	return HashContent(string(data))
}

// Clone returns a deep copy.
func (mc *ModuleContext) Clone() *ModuleContext {
	cp := *mc
	cp.Fields = cloneFields(mc.Fields)
	return &cp
}

// Validate checks the context for consistency.
func (mc *ModuleContext) Validate() error {
	if mc.Term == "" {
		return fmt.Errorf("term is required")
	}
	if _, err := rules.ParseOntologicalCategory(string(mc.Category)); err != nil {
		return err
	}
	if mc.Complexity < 0 || mc.Complexity > 1 {
		return fmt.Errorf("complexity must be within [0,1], got %v", mc.Complexity)
	}
	return nil
}

// String returns a human-readable summary of the context.
func (mc *ModuleContext) String() string {
	present := make([]string, 0, 4)
	for _, f := range classify.AllFields() {
		if mc.Has(f) {
			present = append(present, string(f))
		}
	}
	return fmt.Sprintf("ModuleContext{term=%q, category=%s, complexity=%.2f, fields=%v}",
		mc.Term, mc.Category, mc.Complexity, present)
}

func cloneFields(f classify.Fields) classify.Fields {
	return classify.Fields{
		Organizational: slices.Clone(f.Organizational),
		Legal:          slices.Clone(f.Legal),
		Source:         slices.Clone(f.Source),
		Documents:      slices.Clone(f.Documents),
	}
}
