// Package consistency detects rule sets that no definition can satisfy: a
// required pattern that entails a forbidden one for the same ontological
// category, or a word range that is empty.
package consistency

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"defgen/internal/logging"
	"defgen/internal/prompt"
	"defgen/internal/rules"
)

// Contradiction is one pair of directives that cannot both hold, with the
// ontological categories for which both are in force.
type Contradiction struct {
	RequiredRule  string                      `json:"required_rule"`
	Required      string                      `json:"required"`
	ForbiddenRule string                      `json:"forbidden_rule"`
	Forbidden     string                      `json:"forbidden"`
	Pattern       string                      `json:"pattern"`
	Categories    []rules.OntologicalCategory `json:"categories"`
}

// String renders the contradiction for humans.
func (c Contradiction) String() string {
	cats := make([]string, len(c.Categories))
	for i, cat := range c.Categories {
		cats[i] = string(cat)
	}
	return fmt.Sprintf("%s requires %s but %s forbids %s (%s)",
		c.RequiredRule, c.Required, c.ForbiddenRule, c.Forbidden, strings.Join(cats, ", "))
}

func (c Contradiction) key() string {
	return strings.Join([]string{c.RequiredRule, c.Required, c.ForbiddenRule, c.Forbidden}, "\x00")
}

// ContradictionError reports an unsatisfiable rule set.
type ContradictionError struct {
	Contradictions []Contradiction
}

// Error implements the error interface.
func (e *ContradictionError) Error() string {
	parts := make([]string, len(e.Contradictions))
	for i, c := range e.Contradictions {
		parts[i] = c.String()
	}
	return fmt.Sprintf("%d contradiction(s): %s", len(e.Contradictions), strings.Join(parts, "; "))
}

// directive is one required or forbidden matcher with its scope.
type directive struct {
	rule     string
	required bool
	matcher  rules.Matcher
	scope    []rules.OntologicalCategory
	exempt   []rules.OntologicalCategory
}

// Validator evaluates directive sets against the contradiction program.
// It is safe for concurrent use.
type Validator struct {
	info          *analysis.ProgramInfo
	strata        []analysis.Nodeset
	predToStratum map[ast.PredicateSym]int
}

// NewValidator parses, analyzes and stratifies the contradiction program
// once; every check reuses the result.
func NewValidator() (*Validator, error) {
	unit, err := parse.Unit(strings.NewReader(program))
	if err != nil {
		return nil, fmt.Errorf("parse contradiction program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze contradiction program: %w", err)
	}
	strata, predToStratum, err := analysis.Stratify(analysis.Program{
		EdbPredicates: info.EdbPredicates,
		IdbPredicates: info.IdbPredicates,
		Rules:         info.Rules,
	})
	if err != nil {
		return nil, fmt.Errorf("stratify contradiction program: %w", err)
	}
	return &Validator{info: info, strata: strata, predToStratum: predToStratum}, nil
}

// CheckCatalog finds every contradiction in the catalog across all
// ontological categories.
func (v *Validator) CheckCatalog(catalog *rules.Catalog) ([]Contradiction, error) {
	timer := logging.StartTimer(logging.CategoryConsistency, "CheckCatalog")
	defer timer.Stop()

	var ds []directive
	for _, r := range catalog.Rules() {
		ds = append(ds, ruleDirectives(r)...)
	}
	found, err := v.check(ds, nil)
	if err != nil {
		return nil, err
	}
	logging.Consistency("Catalog %s: %d rules, %d directives, %d contradictions",
		catalog.Version(), catalog.Len(), len(ds), len(found))
	return found, nil
}

// Validate returns a ContradictionError when the catalog is unsatisfiable.
func (v *Validator) Validate(catalog *rules.Catalog) error {
	found, err := v.CheckCatalog(catalog)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return &ContradictionError{Contradictions: found}
	}
	return nil
}

// CheckSections checks the constraint sections of an assembled instruction
// for one ontological category. Rule scopes and exceptions come from the
// catalog; sections whose rules the catalog does not know apply everywhere.
func (v *Validator) CheckSections(sections []prompt.Section, catalog *rules.Catalog, category rules.OntologicalCategory) ([]Contradiction, error) {
	timer := logging.StartTimer(logging.CategoryConsistency, "CheckSections")
	defer timer.Stop()

	var ds []directive
	for _, s := range sections {
		if !s.IsConstraint() {
			continue
		}
		d := directive{
			rule:     strings.Join(s.RuleIDs, "+"),
			required: s.Directive == prompt.DirectiveRequired,
			matcher:  *s.Pattern,
			scope:    rules.AllOntologicalCategories(),
		}
		if d.rule == "" {
			d.rule = s.OriginModule
		}
		if len(s.RuleIDs) == 1 {
			if r, ok := catalog.Rule(s.RuleIDs[0]); ok {
				d.scope = r.Scope()
				if !d.required {
					d.exempt = exemptions(r, *s.Pattern)
				}
			}
		}
		ds = append(ds, d)
	}
	return v.check(ds, []rules.OntologicalCategory{category})
}

// ValidateSections returns a ContradictionError for an unsatisfiable instruction.
func (v *Validator) ValidateSections(sections []prompt.Section, catalog *rules.Catalog, category rules.OntologicalCategory) error {
	found, err := v.CheckSections(sections, catalog, category)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return &ContradictionError{Contradictions: found}
	}
	return nil
}

func ruleDirectives(r *rules.Rule) []directive {
	var out []directive
	scope := r.Scope()
	for _, m := range r.Required {
		out = append(out, directive{rule: r.ID, required: true, matcher: m, scope: scope})
	}
	for _, m := range r.Forbidden {
		out = append(out, directive{rule: r.ID, matcher: m, scope: scope, exempt: exemptions(r, m)})
	}
	return out
}

// exemptions lists the categories for which an exception may relax m.
func exemptions(r *rules.Rule, m rules.Matcher) []rules.OntologicalCategory {
	var out []rules.OntologicalCategory
	for _, e := range r.ExceptionsFor(m) {
		for _, cat := range rules.AllOntologicalCategories() {
			if e.Condition.MaySatisfy(cat) {
				out = append(out, cat)
			}
		}
	}
	return out
}

// check evaluates the directives. A nil filter keeps every category.
func (v *Validator) check(ds []directive, filter []rules.OntologicalCategory) ([]Contradiction, error) {
	store := factstore.NewSimpleInMemoryStore()

	ids := make(map[string]int, len(ds))
	seenRule := make(map[string]bool)
	var reqs, forbs []string
	for i, d := range ds {
		id := "d" + strconv.Itoa(i)
		ids[id] = i
		if !seenRule[d.rule] {
			seenRule[d.rule] = true
			for _, cat := range d.scope {
				store.Add(ast.NewAtom("applies", ast.String(d.rule), ast.String(string(cat))))
			}
		}
		if !d.matcher.Kind.Textual() {
			continue
		}
		if d.required {
			store.Add(ast.NewAtom("required", ast.String(id), ast.String(d.rule)))
			reqs = append(reqs, id)
			continue
		}
		store.Add(ast.NewAtom("forbidden", ast.String(id), ast.String(d.rule)))
		forbs = append(forbs, id)
		for _, cat := range d.exempt {
			store.Add(ast.NewAtom("exempt", ast.String(id), ast.String(string(cat))))
		}
	}
	for _, r := range reqs {
		for _, f := range forbs {
			if ds[ids[r]].matcher.Implies(ds[ids[f]].matcher) {
				store.Add(ast.NewAtom("implies", ast.String(r), ast.String(f)))
			}
		}
	}

	if _, err := engine.EvalStratifiedProgramWithStats(v.info, v.strata, v.predToStratum, store); err != nil {
		return nil, fmt.Errorf("evaluate contradiction program: %w", err)
	}
	logging.Get(logging.CategoryConsistency).Debug("Evaluated %d directives", len(ds))

	keep := func(cat rules.OntologicalCategory) bool {
		if filter == nil {
			return true
		}
		for _, f := range filter {
			if f == cat {
				return true
			}
		}
		return false
	}

	byKey := make(map[string]*Contradiction)
	var order []string
	add := func(req, forb directive, cat rules.OntologicalCategory) {
		if !keep(cat) {
			return
		}
		c := Contradiction{
			RequiredRule:  req.rule,
			Required:      req.matcher.String(),
			ForbiddenRule: forb.rule,
			Forbidden:     forb.matcher.String(),
			Pattern:       forb.matcher.NormalizedPattern(),
		}
		k := c.key()
		existing, ok := byKey[k]
		if !ok {
			existing = &c
			byKey[k] = existing
			order = append(order, k)
		}
		if !inScope(existing.Categories, cat) {
			existing.Categories = append(existing.Categories, cat)
		}
	}

	query := ast.NewQuery(ast.PredicateSym{Symbol: "conflict", Arity: 3})
	err := store.GetFacts(query, func(a ast.Atom) error {
		cat := rules.OntologicalCategory(symbol(a.Args[0]))
		add(ds[ids[symbol(a.Args[1])]], ds[ids[symbol(a.Args[2])]], cat)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query contradictions: %w", err)
	}
	for _, pair := range wordRangeConflicts(ds) {
		for _, cat := range pair.categories {
			add(pair.lo, pair.hi, cat)
		}
	}

	out := make([]Contradiction, 0, len(order))
	for _, k := range order {
		c := *byKey[k]
		sortCategories(c.Categories)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key() < out[j].key() })
	return out, nil
}

func sortCategories(cats []rules.OntologicalCategory) {
	rank := make(map[rules.OntologicalCategory]int)
	for i, c := range rules.AllOntologicalCategories() {
		rank[c] = i
	}
	sort.Slice(cats, func(i, j int) bool { return rank[cats[i]] < rank[cats[j]] })
}

type rangeConflict struct {
	lo, hi     directive
	categories []rules.OntologicalCategory
}

// wordRangeConflicts finds a required minimum word count above a required
// maximum for the same category.
func wordRangeConflicts(ds []directive) []rangeConflict {
	var out []rangeConflict
	for _, lo := range ds {
		if !lo.required || lo.matcher.Kind != rules.KindMinWords {
			continue
		}
		for _, hi := range ds {
			if !hi.required || hi.matcher.Kind != rules.KindMaxWords || lo.matcher.Limit <= hi.matcher.Limit {
				continue
			}
			rc := rangeConflict{lo: lo, hi: hi}
			for _, cat := range lo.scope {
				if inScope(hi.scope, cat) {
					rc.categories = append(rc.categories, cat)
				}
			}
			if len(rc.categories) > 0 {
				out = append(out, rc)
			}
		}
	}
	return out
}

func inScope(scope []rules.OntologicalCategory, cat rules.OntologicalCategory) bool {
	for _, s := range scope {
		if s == cat {
			return true
		}
	}
	return false
}

func symbol(t ast.BaseTerm) string {
	if c, ok := t.(ast.Constant); ok {
		return c.Symbol
	}
	return fmt.Sprint(t)
}
