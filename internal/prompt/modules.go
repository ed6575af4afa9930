package prompt

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"defgen/internal/classify"
	"defgen/internal/rules"
)

// Shared state keys written by the built-in modules.
const (
	KeyTemplateKind = "template_kind"
	KeyContextTerms = "context_terms"
)

type baseModule struct {
	spec Spec
}

func (b baseModule) Spec() Spec                    { return b.spec }
func (b baseModule) Relevant(*ModuleContext) bool { return true }

// hasContext gates enrichment: a bare term gets the core instruction only.
func hasContext(mctx *ModuleContext) bool { return mctx.Complexity > 0 }

// roleModule frames the model as a government terminologist.
type roleModule struct{ baseModule }

func newRoleModule() *roleModule {
	return &roleModule{baseModule{Spec{ID: "role", Title: "Rol", Tier: TierCore, Static: true}}}
}

func (m *roleModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	return []Section{{Text: t.Role}}, nil
}

// templateModule picks the definition form for the ontological category.
type templateModule struct{ baseModule }

func newTemplateModule() *templateModule {
	return &templateModule{baseModule{Spec{
		ID: "template", Title: "Vorm", Tier: TierCore, Mandatory: true,
		Writes: []StateKey{{Name: KeyTemplateKind, Type: TypeString}},
	}}}
}

func (m *templateModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	cat := in.Context.Category
	text, ok := t.Templates[string(cat)]
	if !ok {
		return nil, fmt.Errorf("no template for category %s", cat)
	}
	if cat != rules.OntoUnknown {
		if err := in.State.Set(KeyTemplateKind, cat.Label()); err != nil {
			return nil, err
		}
	}
	return []Section{{Text: text}}, nil
}

// taskModule states what to define.
type taskModule struct{ baseModule }

func newTaskModule() *taskModule {
	return &taskModule{baseModule{Spec{
		ID: "task", Title: "Opdracht", Tier: TierCore, Mandatory: true,
		Reads: []string{KeyTemplateKind},
	}}}
}

func (m *taskModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	kind, _ := in.State.String(KeyTemplateKind)
	text, err := render(t.task, struct{ Term, Kind string }{in.Context.Term, kind})
	if err != nil {
		return nil, err
	}
	return []Section{{Text: text}}, nil
}

// ruleModule explains every rule of one catalog category and carries the
// rules' patterns as constraint sections.
type ruleModule struct {
	baseModule
	category rules.Category
}

func newRuleModule(cat rules.Category) *ruleModule {
	return &ruleModule{
		baseModule: baseModule{Spec{
			ID:     "rules_" + string(cat),
			Title:  "Toetsregels " + strings.ToLower(cat.Label()),
			Tier:   TierCore,
			Static: true,
		}},
		category: cat,
	}
}

func (m *ruleModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	var out []Section
	for _, r := range in.Catalog.RulesByCategory(m.category) {
		out = append(out, ruleSections(r)...)
	}
	return out, nil
}

// ruleSections renders one rule: its instruction attached to the first
// directive, the other directives as text-less constraint sections.
func ruleSections(r *rules.Rule) []Section {
	text := fmt.Sprintf("- %s: %s", r.ID, r.Instruction)
	if len(r.AppliesTo) > 0 {
		labels := make([]string, len(r.AppliesTo))
		for i, c := range r.AppliesTo {
			labels[i] = c.Label()
		}
		text += fmt.Sprintf(" (alleen bij %s)", strings.Join(labels, ", "))
	}

	var out []Section
	add := func(d DirectiveKind, mt *rules.Matcher) {
		s := Section{Directive: d, Pattern: mt, RuleIDs: []string{r.ID}}
		if len(out) == 0 {
			s.Text = text
		}
		out = append(out, s)
	}
	for i := range r.Required {
		add(DirectiveRequired, &r.Required[i])
	}
	for i := range r.Forbidden {
		add(DirectiveForbidden, &r.Forbidden[i])
	}
	if len(out) == 0 {
		out = append(out, Section{Text: text, Directive: DirectiveInformational, RuleIDs: []string{r.ID}})
	}
	return out
}

// outputFormatModule fixes the shape of the answer.
type outputFormatModule struct{ baseModule }

func newOutputFormatModule() *outputFormatModule {
	return &outputFormatModule{baseModule{Spec{ID: "output_format", Title: "Uitvoer", Tier: TierCore, Static: true}}}
}

func (m *outputFormatModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	return []Section{{Text: t.OutputFormat}}, nil
}

// contextModule passes the organizational, legal and source context.
type contextModule struct{ baseModule }

func newContextModule() *contextModule {
	return &contextModule{baseModule{Spec{
		ID: "context", Title: "Context", Tier: TierConditional,
		Writes: []StateKey{{Name: KeyContextTerms, Type: TypeStrings}},
	}}}
}

var contextFields = []classify.Field{classify.FieldOrganizational, classify.FieldLegal, classify.FieldSource}

func (m *contextModule) Relevant(mctx *ModuleContext) bool {
	for _, f := range contextFields {
		if mctx.Has(f) {
			return true
		}
	}
	return false
}

func (m *contextModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	out := []Section{{Text: t.ContextIntro}}
	var terms []string
	for _, f := range contextFields {
		values := in.Context.Fields.Values(f)
		if len(values) == 0 {
			continue
		}
		out = append(out, Section{Text: fmt.Sprintf("- %s: %s", t.ContextLabels[string(f)], strings.Join(values, "; "))})
		terms = append(terms, values...)
	}
	if err := in.State.Set(KeyContextTerms, terms); err != nil {
		return nil, err
	}
	return out, nil
}

// documentsModule quotes the start of each supplied document.
type documentsModule struct{ baseModule }

func newDocumentsModule() *documentsModule {
	return &documentsModule{baseModule{Spec{ID: "documents", Title: "Documenten", Tier: TierConditional}}}
}

func (m *documentsModule) Relevant(mctx *ModuleContext) bool {
	return mctx.Has(classify.FieldDocuments)
}

func (m *documentsModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	out := []Section{{Text: t.DocumentsIntro}}
	for _, doc := range in.Context.Fields.Values(classify.FieldDocuments) {
		out = append(out, Section{Text: "- " + snippet(doc, t.DocumentsSnippetRunes)})
	}
	return out, nil
}

func snippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit])) + "…"
}

// complexityModule adds guidance when the context is rich.
type complexityModule struct {
	baseModule
	threshold float64
}

func newComplexityModule(threshold float64) *complexityModule {
	return &complexityModule{
		baseModule: baseModule{Spec{
			ID: "complexity", Title: "Afweging", Tier: TierConditional,
			Reads: []string{KeyContextTerms},
		}},
		threshold: threshold,
	}
}

func (m *complexityModule) Relevant(mctx *ModuleContext) bool {
	return hasContext(mctx) && mctx.Complexity >= m.threshold
}

func (m *complexityModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	terms, _ := in.State.Strings(KeyContextTerms)
	if len(terms) == 0 {
		terms = []string{"de aangeleverde documenten"}
	}
	text, err := render(t.complexity, struct{ Terms []string }{terms})
	if err != nil {
		return nil, err
	}
	return []Section{{Text: text}}, nil
}

// examplesModule shows worked definitions of the same category.
type examplesModule struct{ baseModule }

func newExamplesModule() *examplesModule {
	return &examplesModule{baseModule{Spec{ID: "examples", Title: "Voorbeelden", Tier: TierOptional, Priority: 30}}}
}

func (m *examplesModule) Relevant(mctx *ModuleContext) bool {
	return hasContext(mctx) && mctx.Category != rules.OntoUnknown
}

func (m *examplesModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	examples := in.Catalog.Examples(in.Context.Category)
	if len(examples) == 0 {
		return nil, nil
	}
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	out := []Section{{Text: t.ExamplesIntro}}
	for _, ex := range examples {
		out = append(out, Section{Text: fmt.Sprintf("- %s: %s", ex.Term, ex.Definition)})
	}
	return out, nil
}

// pitfallsModule lists the forbidden openings and phrases of serious rules.
type pitfallsModule struct{ baseModule }

func newPitfallsModule() *pitfallsModule {
	return &pitfallsModule{baseModule{Spec{ID: "pitfalls", Title: "Valkuilen", Tier: TierOptional, Priority: 20, Static: true}}}
}

func (m *pitfallsModule) Relevant(mctx *ModuleContext) bool { return hasContext(mctx) }

func (m *pitfallsModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	var starts, phrases []string
	var constraints []Section
	for _, r := range in.Catalog.Rules() {
		if r.Severity != rules.SeverityCritical && r.Severity != rules.SeverityHigh {
			continue
		}
		for i := range r.Forbidden {
			mt := &r.Forbidden[i]
			switch mt.Kind {
			case rules.KindPrefix:
				starts = append(starts, "'"+mt.Pattern+"'")
			case rules.KindWord, rules.KindLiteral:
				phrases = append(phrases, "'"+mt.Pattern+"'")
			default:
				continue
			}
			constraints = append(constraints, Section{Directive: DirectiveForbidden, Pattern: mt, RuleIDs: []string{r.ID}})
		}
	}
	if len(constraints) == 0 {
		return nil, nil
	}
	out := []Section{{Text: t.PitfallsIntro}}
	if len(starts) > 0 {
		out = append(out, Section{Text: "- Begin niet met " + strings.Join(starts, ", ") + "."})
	}
	if len(phrases) > 0 {
		out = append(out, Section{Text: "- Gebruik niet " + strings.Join(phrases, ", ") + "."})
	}
	return append(out, constraints...), nil
}

// grammarModule adds general style guidance.
type grammarModule struct{ baseModule }

func newGrammarModule() *grammarModule {
	return &grammarModule{baseModule{Spec{ID: "grammar", Title: "Taalgebruik", Tier: TierOptional, Priority: 10, Static: true}}}
}

func (m *grammarModule) Relevant(mctx *ModuleContext) bool { return hasContext(mctx) }

func (m *grammarModule) Execute(ctx context.Context, in Input) ([]Section, error) {
	t, err := loadModuleTexts()
	if err != nil {
		return nil, err
	}
	return []Section{{Text: t.Grammar}}, nil
}
