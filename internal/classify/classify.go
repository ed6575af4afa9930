// Package classify derives the ontological category of a term and the
// complexity of its context. Classification is a pure function of its inputs.
package classify

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"defgen/internal/logging"
	"defgen/internal/rules"
)

// Field names one optional context field.
type Field string

const (
	FieldOrganizational Field = "organizational"
	FieldLegal          Field = "legal"
	FieldSource         Field = "source"
	FieldDocuments      Field = "documents"
)

// AllFields returns the context fields in canonical order.
func AllFields() []Field {
	return []Field{FieldOrganizational, FieldLegal, FieldSource, FieldDocuments}
}

// Fields carries the raw optional context of a request.
type Fields struct {
	Organizational []string `json:"organizational,omitempty" yaml:"organizational,omitempty"`
	Legal          []string `json:"legal,omitempty" yaml:"legal,omitempty"`
	Source         []string `json:"source,omitempty" yaml:"source,omitempty"`
	Documents      []string `json:"documents,omitempty" yaml:"documents,omitempty"`
}

// Values returns the non-blank entries of one field.
func (f Fields) Values(field Field) []string {
	var raw []string
	switch field {
	case FieldOrganizational:
		raw = f.Organizational
	case FieldLegal:
		raw = f.Legal
	case FieldSource:
		raw = f.Source
	case FieldDocuments:
		raw = f.Documents
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Has reports whether a field carries any content.
func (f Fields) Has(field Field) bool {
	return len(f.Values(field)) > 0
}

// Length is the total rune length of a field's content.
func (f Fields) Length(field Field) int {
	n := 0
	for _, v := range f.Values(field) {
		n += utf8.RuneCountInString(v)
	}
	return n
}

// Config tunes the classifier.
type Config struct {
	// Minimum share of the winning category in the total vote.
	ConfidenceThreshold float64
	// Field length (runes) at which a field's length contribution saturates.
	LengthSaturation int
	// Relative weight of each field in the complexity score.
	FieldWeights map[Field]float64
}

// DefaultConfig returns the default classifier configuration.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.55,
		LengthSaturation:    600,
		FieldWeights: map[Field]float64{
			FieldOrganizational: 1,
			FieldLegal:          1,
			FieldSource:         0.5,
			FieldDocuments:      1.5,
		},
	}
}

// Result is the classifier output.
type Result struct {
	Category   rules.OntologicalCategory             `json:"category"`
	Confidence float64                               `json:"confidence"`
	Complexity float64                               `json:"complexity"`
	Votes      map[rules.OntologicalCategory]float64 `json:"votes,omitempty"`
}

// Classifier is stateless apart from its configuration.
type Classifier struct {
	cfg Config
}

// New creates a classifier. Zero-valued settings fall back to defaults.
func New(cfg Config) *Classifier {
	def := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.LengthSaturation <= 0 {
		cfg.LengthSaturation = def.LengthSaturation
	}
	if len(cfg.FieldWeights) == 0 {
		cfg.FieldWeights = def.FieldWeights
	}
	return &Classifier{cfg: cfg}
}

// Classify returns the ontological category and complexity for a term.
func (c *Classifier) Classify(term string, fields Fields) Result {
	votes := c.vote(term, fields)
	cat, confidence := decide(votes, c.cfg.ConfidenceThreshold)
	res := Result{
		Category:   cat,
		Confidence: confidence,
		Complexity: c.Complexity(fields),
		Votes:      votes,
	}
	logging.Get(logging.CategoryClassify).Debug("Classified %q as %s (confidence %.2f, complexity %.2f)",
		term, res.Category, res.Confidence, res.Complexity)
	return res
}

// Complexity is the weighted share of present fields, each scaled by how
// much content it carries. No present field gives 0.
func (c *Classifier) Complexity(fields Fields) float64 {
	var total, score float64
	for _, f := range AllFields() {
		w := c.cfg.FieldWeights[f]
		if w <= 0 {
			continue
		}
		total += w
		if !fields.Has(f) {
			continue
		}
		fill := float64(fields.Length(f)) / float64(c.cfg.LengthSaturation)
		if fill > 1 {
			fill = 1
		}
		score += w * (0.5 + 0.5*fill)
	}
	if total == 0 {
		return 0
	}
	return score / total
}

// decide picks the winning category. Ties and weak wins give unknown.
func decide(votes map[rules.OntologicalCategory]float64, threshold float64) (rules.OntologicalCategory, float64) {
	var sum float64
	type scored struct {
		cat   rules.OntologicalCategory
		score float64
	}
	ranked := make([]scored, 0, len(votes))
	for _, cat := range rules.AllOntologicalCategories() {
		if v := votes[cat]; v > 0 {
			ranked = append(ranked, scored{cat, v})
			sum += v
		}
	}
	if len(ranked) == 0 {
		return rules.OntoUnknown, 0
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	confidence := ranked[0].score / sum
	if len(ranked) > 1 && ranked[0].score == ranked[1].score {
		return rules.OntoUnknown, confidence
	}
	if confidence < threshold {
		return rules.OntoUnknown, confidence
	}
	return ranked[0].cat, confidence
}

func (c *Classifier) vote(term string, fields Fields) map[rules.OntologicalCategory]float64 {
	votes := make(map[rules.OntologicalCategory]float64)
	term = strings.TrimSpace(term)
	if term == "" {
		return votes
	}
	lower := strings.ToLower(term)
	head := lastWord(lower)

	for _, cue := range termCues {
		if cue.matches(head) {
			votes[cue.category] += cue.weight
		}
	}
	if isProperName(term) {
		votes[rules.OntoInstance] += 2
	}

	// Context keywords count once per field, capped per category.
	contextVotes := make(map[rules.OntologicalCategory]float64)
	for _, f := range AllFields() {
		text := strings.ToLower(strings.Join(fields.Values(f), " "))
		if text == "" {
			continue
		}
		for _, kw := range contextKeywords {
			if containsWord(text, kw.word) {
				contextVotes[kw.category] += 0.5
			}
		}
	}
	for cat, v := range contextVotes {
		if v > 1.5 {
			v = 1.5
		}
		votes[cat] += v
	}
	return votes
}

type termCue struct {
	suffix   string
	category rules.OntologicalCategory
	weight   float64
}

// matches accepts the head itself or a word at least three letters longer
// ending in it, so "ding" is not read as a nominalised verb.
func (c termCue) matches(word string) bool {
	if word == c.suffix {
		return true
	}
	return len(word) >= len(c.suffix)+3 && strings.HasSuffix(word, c.suffix)
}

// Dutch morphology: nominalised verbs denote processes, a closed set of
// heads denote results, agent and instrument heads denote types.
var termCues = []termCue{
	{suffix: "ing", category: rules.OntoProcess, weight: 2},
	{suffix: "atie", category: rules.OntoProcess, weight: 2},
	{suffix: "tie", category: rules.OntoProcess, weight: 1},
	{suffix: "eren", category: rules.OntoProcess, weight: 1.5},
	{suffix: "besluit", category: rules.OntoResult, weight: 4},
	{suffix: "beschikking", category: rules.OntoResult, weight: 4},
	{suffix: "vergunning", category: rules.OntoResult, weight: 4},
	{suffix: "rapport", category: rules.OntoResult, weight: 4},
	{suffix: "verslag", category: rules.OntoResult, weight: 4},
	{suffix: "overzicht", category: rules.OntoResult, weight: 3},
	{suffix: "uitspraak", category: rules.OntoResult, weight: 4},
	{suffix: "akte", category: rules.OntoResult, weight: 3},
	{suffix: "er", category: rules.OntoType, weight: 1},
	{suffix: "aar", category: rules.OntoType, weight: 1.5},
	{suffix: "middel", category: rules.OntoType, weight: 2},
	{suffix: "voertuig", category: rules.OntoType, weight: 2},
	{suffix: "object", category: rules.OntoType, weight: 2},
	{suffix: "persoon", category: rules.OntoType, weight: 2},
}

type keyword struct {
	word     string
	category rules.OntologicalCategory
}

var contextKeywords = []keyword{
	{"proces", rules.OntoProcess},
	{"procedure", rules.OntoProcess},
	{"handeling", rules.OntoProcess},
	{"behandeling", rules.OntoProcess},
	{"activiteit", rules.OntoProcess},
	{"uitvoeren", rules.OntoProcess},
	{"uitkomst", rules.OntoResult},
	{"resultaat", rules.OntoResult},
	{"besluit", rules.OntoResult},
	{"document", rules.OntoResult},
	{"soort", rules.OntoType},
	{"categorie", rules.OntoType},
	{"klasse", rules.OntoType},
	{"specifiek", rules.OntoInstance},
	{"genaamd", rules.OntoInstance},
}

func lastWord(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(parts) == 0 {
		return s
	}
	return parts[len(parts)-1]
}

// isProperName reports a capitalised term that is not an all-caps abbreviation.
func isProperName(term string) bool {
	first, _ := utf8.DecodeRuneInString(term)
	if !unicode.IsUpper(first) {
		return false
	}
	for _, r := range term {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}

func containsWord(text, word string) bool {
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if tok == word {
			return true
		}
	}
	return false
}
