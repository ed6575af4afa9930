package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

var ruleIDPattern = regexp.MustCompile(`^[A-Z]+-[0-9]{2,}$`)

// Rule is one formal rule of the catalog.
type Rule struct {
	ID          string                `yaml:"id" toml:"id" json:"id" validate:"required"`
	Name        string                `yaml:"name" toml:"name" json:"name" validate:"required"`
	Category    Category              `yaml:"category" toml:"category" json:"category" validate:"required"`
	Severity    Severity              `yaml:"severity" toml:"severity" json:"severity" validate:"required"`
	Weight      float64               `yaml:"weight" toml:"weight" json:"weight" validate:"gt=0"`
	Instruction string                `yaml:"instruction" toml:"instruction" json:"instruction" validate:"required"`
	Description string                `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	AppliesTo   []OntologicalCategory `yaml:"applies_to,omitempty" toml:"applies_to,omitempty" json:"applies_to,omitempty"`
	Required    []Matcher             `yaml:"required,omitempty" toml:"required,omitempty" json:"required,omitempty" validate:"dive"`
	Forbidden   []Matcher             `yaml:"forbidden,omitempty" toml:"forbidden,omitempty" json:"forbidden,omitempty" validate:"dive"`
	Exceptions  []Exception           `yaml:"exceptions,omitempty" toml:"exceptions,omitempty" json:"exceptions,omitempty" validate:"dive"`
}

// Exception relaxes one forbidden matcher of its rule when its condition holds.
type Exception struct {
	Matcher   Matcher   `yaml:"matcher" toml:"matcher" json:"matcher"`
	Condition Condition `yaml:"condition" toml:"condition" json:"condition"`
	Reason    string    `yaml:"reason,omitempty" toml:"reason,omitempty" json:"reason,omitempty"`
}

// Condition holds when every stated part holds.
type Condition struct {
	Categories  []OntologicalCategory `yaml:"categories,omitempty" toml:"categories,omitempty" json:"categories,omitempty"`
	WhenMatches *Matcher              `yaml:"when_matches,omitempty" toml:"when_matches,omitempty" json:"when_matches,omitempty"`
}

// Example is a worked definition for one ontological category.
type Example struct {
	Category    OntologicalCategory `yaml:"category" toml:"category" json:"category" validate:"required"`
	Term        string              `yaml:"term" toml:"term" json:"term" validate:"required"`
	Definition  string              `yaml:"definition" toml:"definition" json:"definition" validate:"required"`
	Explanation string              `yaml:"explanation,omitempty" toml:"explanation,omitempty" json:"explanation,omitempty"`
}

// AppliesToCategory reports whether the rule is in scope for cat. An empty
// scope means every category.
func (r *Rule) AppliesToCategory(cat OntologicalCategory) bool {
	return len(r.AppliesTo) == 0 || slices.Contains(r.AppliesTo, cat)
}

// Scope returns the ontological categories the rule applies to.
func (r *Rule) Scope() []OntologicalCategory {
	if len(r.AppliesTo) == 0 {
		return AllOntologicalCategories()
	}
	return slices.Clone(r.AppliesTo)
}

// ExceptionsFor returns the exceptions relaxing the given forbidden matcher.
func (r *Rule) ExceptionsFor(m Matcher) []Exception {
	var out []Exception
	for _, e := range r.Exceptions {
		if e.Matcher.SameAs(m) {
			out = append(out, e)
		}
	}
	return out
}

// MatcherCount is the number of directives evaluated for the rule.
func (r *Rule) MatcherCount() int {
	return len(r.Required) + len(r.Forbidden)
}

// check enforces the structural invariants that struct tags cannot express.
func (r *Rule) check() error {
	if !ruleIDPattern.MatchString(r.ID) {
		return fmt.Errorf("rule id %q must look like CODE-NN", r.ID)
	}
	if code := r.Category.Code(); !strings.HasPrefix(r.ID, code+"-") {
		return fmt.Errorf("rule %s: id prefix does not match category %s (%s)", r.ID, r.Category, code)
	}
	if r.MatcherCount() == 0 {
		return fmt.Errorf("rule %s: no required or forbidden matchers", r.ID)
	}
	for _, e := range r.Exceptions {
		relaxes := false
		for _, f := range r.Forbidden {
			if f.SameAs(e.Matcher) {
				relaxes = true
				break
			}
		}
		if !relaxes {
			return fmt.Errorf("rule %s: exception targets %s which is not a forbidden matcher of the rule", r.ID, e.Matcher)
		}
		if len(e.Condition.Categories) == 0 && e.Condition.WhenMatches == nil {
			return fmt.Errorf("rule %s: exception for %s states no condition", r.ID, e.Matcher)
		}
	}
	return nil
}

// compile compiles every matcher of the rule in place.
func (r *Rule) compile(timeout time.Duration) error {
	for i := range r.Required {
		if err := r.Required[i].Compile(timeout); err != nil {
			return fmt.Errorf("rule %s required[%d]: %w", r.ID, i, err)
		}
	}
	for i := range r.Forbidden {
		if err := r.Forbidden[i].Compile(timeout); err != nil {
			return fmt.Errorf("rule %s forbidden[%d]: %w", r.ID, i, err)
		}
	}
	for i := range r.Exceptions {
		e := &r.Exceptions[i]
		if err := e.Matcher.Compile(timeout); err != nil {
			return fmt.Errorf("rule %s exception[%d]: %w", r.ID, i, err)
		}
		if e.Condition.WhenMatches != nil {
			if err := e.Condition.WhenMatches.Compile(timeout); err != nil {
				return fmt.Errorf("rule %s exception[%d] condition: %w", r.ID, i, err)
			}
		}
	}
	return nil
}

// MaySatisfy reports whether the condition can hold for cat without looking
// at any text. Text conditions are treated as satisfiable.
func (c Condition) MaySatisfy(cat OntologicalCategory) bool {
	return len(c.Categories) == 0 || slices.Contains(c.Categories, cat)
}

// Holds evaluates the condition against a candidate text.
func (c Condition) Holds(text string, cat OntologicalCategory) (bool, error) {
	if !c.MaySatisfy(cat) {
		return false, nil
	}
	if c.WhenMatches == nil {
		return true, nil
	}
	res, err := c.WhenMatches.Find(text)
	if err != nil {
		return false, err
	}
	return res.Found, nil
}
