package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Catalog is an immutable, versioned snapshot of rules and worked examples.
// Accessors hand out the catalog's own rule pointers; callers must not
// mutate them.
type Catalog struct {
	name     string
	declared string
	version  string
	rules    []*Rule
	byID     map[string]*Rule
	examples []Example
}

// Document is the serialized form of a catalog.
type Document struct {
	Version  string    `yaml:"version" toml:"version" json:"version" validate:"required"`
	Name     string    `yaml:"name,omitempty" toml:"name,omitempty" json:"name,omitempty"`
	Rules    []Rule    `yaml:"rules" toml:"rules" json:"rules" validate:"required,min=1,dive"`
	Examples []Example `yaml:"examples,omitempty" toml:"examples,omitempty" json:"examples,omitempty" validate:"dive"`
}

// NewCatalog validates doc, compiles every matcher, and derives the catalog
// version from the declared version plus a hash of the content. Any invalid
// entry fails the whole catalog.
func NewCatalog(doc Document, matchTimeout time.Duration) (*Catalog, error) {
	if err := validate.Struct(doc); err != nil {
		return nil, describeValidation(err)
	}

	content, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("hash catalog: %w", err)
	}
	sum := sha256.Sum256(content)

	c := &Catalog{
		name:     doc.Name,
		declared: doc.Version,
		version:  doc.Version + "+" + hex.EncodeToString(sum[:6]),
		byID:     make(map[string]*Rule, len(doc.Rules)),
		examples: slices.Clone(doc.Examples),
	}

	for i := range doc.Rules {
		r := doc.Rules[i]
		r.AppliesTo = slices.Clone(r.AppliesTo)
		r.Required = slices.Clone(r.Required)
		r.Forbidden = slices.Clone(r.Forbidden)
		r.Exceptions = cloneExceptions(r.Exceptions)

		if err := r.check(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %s", r.ID)
		}
		if err := r.compile(matchTimeout); err != nil {
			return nil, err
		}
		c.rules = append(c.rules, &r)
		c.byID[r.ID] = &r
	}
	return c, nil
}

func cloneExceptions(in []Exception) []Exception {
	out := slices.Clone(in)
	for i := range out {
		out[i].Condition.Categories = slices.Clone(out[i].Condition.Categories)
		if w := out[i].Condition.WhenMatches; w != nil {
			cp := *w
			out[i].Condition.WhenMatches = &cp
		}
	}
	return out
}

// Version is the catalog version: declared version plus content hash.
func (c *Catalog) Version() string { return c.version }

// DeclaredVersion is the version string as written in the catalog file.
func (c *Catalog) DeclaredVersion() string { return c.declared }

// Name is the optional catalog name.
func (c *Catalog) Name() string { return c.name }

// Len is the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Rules returns the rules in declared order.
func (c *Catalog) Rules() []*Rule {
	return slices.Clone(c.rules)
}

// Rule looks a rule up by ID.
func (c *Catalog) Rule(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// RulesByCategory returns the rules of one category in declared order.
func (c *Catalog) RulesByCategory(cat Category) []*Rule {
	var out []*Rule
	for _, r := range c.rules {
		if r.Category == cat {
			out = append(out, r)
		}
	}
	return out
}

// Categories returns the categories present in the catalog in canonical order.
func (c *Catalog) Categories() []Category {
	var out []Category
	for _, cat := range AllCategories() {
		for _, r := range c.rules {
			if r.Category == cat {
				out = append(out, cat)
				break
			}
		}
	}
	return out
}

// Examples returns the worked examples for one ontological category.
func (c *Catalog) Examples(cat OntologicalCategory) []Example {
	var out []Example
	for _, e := range c.examples {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

// AllExamples returns every worked example in declared order.
func (c *Catalog) AllExamples() []Example {
	return slices.Clone(c.examples)
}

// Document returns the serializable form of the catalog.
func (c *Catalog) Document() Document {
	doc := Document{Version: c.declared, Name: c.name, Examples: slices.Clone(c.examples)}
	for _, r := range c.rules {
		doc.Rules = append(doc.Rules, *r)
	}
	return doc
}
