package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// MatcherKind selects how a matcher's pattern is interpreted.
type MatcherKind string

const (
	// KindLiteral matches the pattern as a case-insensitive substring.
	KindLiteral MatcherKind = "literal"
	// KindWord matches the pattern as a whole word or phrase.
	KindWord MatcherKind = "word"
	// KindPrefix matches when the text opens with the pattern as a whole word.
	KindPrefix MatcherKind = "prefix"
	// KindSuffix matches when the text closes with the pattern as a whole word.
	KindSuffix MatcherKind = "suffix"
	// KindRegex is an RE2 expression (linear time, no lookaround).
	KindRegex MatcherKind = "regex"
	// KindExtended is a backtracking expression with lookaround, bounded by a timeout.
	KindExtended MatcherKind = "extended"
	// KindMaxWords holds when the text has at most Limit words.
	KindMaxWords MatcherKind = "max_words"
	// KindMinWords holds when the text has at least Limit words.
	KindMinWords MatcherKind = "min_words"
)

// DefaultMatchTimeout bounds a single extended match.
const DefaultMatchTimeout = 100 * time.Millisecond

// ErrMatcherNotCompiled is returned when Find is called on a matcher that
// never went through Compile.
var ErrMatcherNotCompiled = errors.New("matcher not compiled")

func (k MatcherKind) valid() bool {
	switch k {
	case KindLiteral, KindWord, KindPrefix, KindSuffix, KindRegex, KindExtended, KindMaxWords, KindMinWords:
		return true
	}
	return false
}

// Textual reports whether the kind matches a pattern (as opposed to counting words).
func (k MatcherKind) Textual() bool {
	return k != KindMaxWords && k != KindMinWords
}

// Matcher is the single pattern abstraction used for required and forbidden
// directives, exception conditions, and instruction sections.
type Matcher struct {
	Kind          MatcherKind `yaml:"kind" toml:"kind" json:"kind" validate:"required"`
	Pattern       string      `yaml:"pattern,omitempty" toml:"pattern,omitempty" json:"pattern,omitempty"`
	Limit         int         `yaml:"limit,omitempty" toml:"limit,omitempty" json:"limit,omitempty" validate:"gte=0"`
	CaseSensitive bool        `yaml:"case_sensitive,omitempty" toml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`

	re  *regexp.Regexp
	re2 *regexp2.Regexp
}

// MatchResult describes the outcome of Find.
type MatchResult struct {
	Found    bool
	Text     string
	Position int // byte offset into the input, -1 when not applicable
}

// Compile prepares the matcher for use. It is idempotent.
func (m *Matcher) Compile(timeout time.Duration) error {
	if !m.Kind.valid() {
		return fmt.Errorf("unknown matcher kind %q", m.Kind)
	}
	if !m.Kind.Textual() {
		if m.Limit <= 0 {
			return fmt.Errorf("%s matcher needs a positive limit", m.Kind)
		}
		if m.Pattern != "" {
			return fmt.Errorf("%s matcher takes no pattern", m.Kind)
		}
		return nil
	}
	if strings.TrimSpace(m.Pattern) == "" {
		return fmt.Errorf("%s matcher needs a pattern", m.Kind)
	}
	if m.Limit != 0 {
		return fmt.Errorf("%s matcher takes no limit", m.Kind)
	}

	if m.Kind == KindExtended {
		opts := regexp2.None
		if !m.CaseSensitive {
			opts |= regexp2.IgnoreCase
		}
		re, err := regexp2.Compile(m.Pattern, opts)
		if err != nil {
			return fmt.Errorf("compile extended pattern %q: %w", m.Pattern, err)
		}
		if timeout <= 0 {
			timeout = DefaultMatchTimeout
		}
		re.MatchTimeout = timeout
		m.re2 = re
		return nil
	}

	expr := m.expression()
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compile %s pattern %q: %w", m.Kind, m.Pattern, err)
	}
	m.re = re
	return nil
}

// expression translates the textual kinds into an RE2 expression whose
// first capture group is the matched pattern.
func (m *Matcher) expression() string {
	flags := ""
	if !m.CaseSensitive {
		flags = "(?i)"
	}
	const boundary = `[^\p{L}\p{N}]`
	quoted := regexp.QuoteMeta(normalizeSpace(m.Pattern))
	quoted = strings.ReplaceAll(quoted, " ", `\s+`)

	switch m.Kind {
	case KindLiteral:
		return flags + "(" + quoted + ")"
	case KindWord:
		return flags + `(?:^|` + boundary + `)(` + quoted + `)(?:$|` + boundary + `)`
	case KindPrefix:
		return flags + `^\s*(` + quoted + `)(?:$|` + boundary + `)`
	case KindSuffix:
		return flags + `(?:^|` + boundary + `)(` + quoted + `)[\s\p{P}]*$`
	default: // KindRegex
		return flags + "(" + m.Pattern + ")"
	}
}

// Compiled reports whether Compile has run successfully.
func (m *Matcher) Compiled() bool {
	if !m.Kind.Textual() {
		return m.Limit > 0
	}
	return m.re != nil || m.re2 != nil
}

// Find evaluates the matcher against text.
func (m *Matcher) Find(text string) (MatchResult, error) {
	switch m.Kind {
	case KindMaxWords:
		if m.Limit <= 0 {
			return MatchResult{}, ErrMatcherNotCompiled
		}
		return MatchResult{Found: CountWords(text) <= m.Limit, Position: -1}, nil
	case KindMinWords:
		if m.Limit <= 0 {
			return MatchResult{}, ErrMatcherNotCompiled
		}
		return MatchResult{Found: CountWords(text) >= m.Limit, Position: -1}, nil
	case KindExtended:
		if m.re2 == nil {
			return MatchResult{}, ErrMatcherNotCompiled
		}
		match, err := m.re2.FindStringMatch(text)
		if err != nil {
			return MatchResult{}, fmt.Errorf("extended match %q: %w", m.Pattern, err)
		}
		if match == nil {
			return MatchResult{Position: -1}, nil
		}
		return MatchResult{Found: true, Text: match.String(), Position: runeOffsetToByte(text, match.Index)}, nil
	}

	if m.re == nil {
		return MatchResult{}, ErrMatcherNotCompiled
	}
	loc := m.re.FindStringSubmatchIndex(text)
	if loc == nil {
		return MatchResult{Position: -1}, nil
	}
	return MatchResult{Found: true, Text: text[loc[2]:loc[3]], Position: loc[2]}, nil
}

// Key identifies the matcher for equality and entailment checks. Plain
// textual kinds are normalized to lower case with collapsed whitespace.
func (m Matcher) Key() string {
	return string(m.Kind) + ":" + m.NormalizedPattern()
}

// NormalizedPattern returns the pattern in the form used for comparisons.
func (m Matcher) NormalizedPattern() string {
	switch m.Kind {
	case KindLiteral, KindWord, KindPrefix, KindSuffix:
		p := normalizeSpace(m.Pattern)
		if !m.CaseSensitive {
			p = strings.ToLower(p)
		}
		return p
	case KindMaxWords, KindMinWords:
		return fmt.Sprintf("%d", m.Limit)
	default:
		return m.Pattern
	}
}

// SameAs reports whether two matchers express the same test.
func (m Matcher) SameAs(other Matcher) bool {
	return m.Kind == other.Kind && m.NormalizedPattern() == other.NormalizedPattern()
}

// String renders the matcher for humans.
func (m Matcher) String() string {
	if !m.Kind.Textual() {
		return fmt.Sprintf("%s(%d)", m.Kind, m.Limit)
	}
	return fmt.Sprintf("%s(%q)", m.Kind, m.Pattern)
}

// Implies reports whether every text that satisfies m also matches
// forbidden, so requiring m while forbidding forbidden leaves nothing
// acceptable. Patterns are compared after whitespace normalization; a
// required pattern containing the forbidden one at a position the forbidden
// kind accepts implies it. Regex, extended and word count matchers never
// imply anything.
func (m Matcher) Implies(forbidden Matcher) bool {
	if !m.Kind.plain() || !forbidden.Kind.plain() {
		return false
	}
	req, forb := normalizeSpace(m.Pattern), normalizeSpace(forbidden.Pattern)
	if forb == "" {
		return false
	}
	switch {
	case !forbidden.CaseSensitive:
		req, forb = strings.ToLower(req), strings.ToLower(forb)
	case !m.CaseSensitive && strings.ToLower(forb) != strings.ToUpper(forb):
		// A case-insensitive requirement is also met by other casings.
		return false
	}

	// Every kind but literal places a boundary or the text edge around
	// its own pattern.
	edges := m.Kind != KindLiteral
	switch forbidden.Kind {
	case KindLiteral:
		return strings.Contains(req, forb)
	case KindWord:
		return containsBounded(req, forb, edges)
	case KindPrefix:
		return m.Kind == KindPrefix && strings.HasPrefix(req, forb) && boundedAfter(req, len(forb), true)
	case KindSuffix:
		return m.Kind == KindSuffix && strings.HasSuffix(req, forb) && boundedBefore(req, len(req)-len(forb), true)
	}
	return false
}

func (k MatcherKind) plain() bool {
	switch k {
	case KindLiteral, KindWord, KindPrefix, KindSuffix:
		return true
	}
	return false
}

// containsBounded reports whether sub occurs in s between word boundaries.
// edges says whether the start and end of s count as boundaries.
func containsBounded(s, sub string, edges bool) bool {
	for i := 0; i+len(sub) <= len(s); {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			return false
		}
		start := i + j
		if boundedBefore(s, start, edges) && boundedAfter(s, start+len(sub), edges) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		i = start + size
	}
	return false
}

func boundedBefore(s string, i int, edge bool) bool {
	if i == 0 {
		return edge
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return isBoundary(r)
}

func boundedAfter(s string, i int, edge bool) bool {
	if i == len(s) {
		return edge
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return isBoundary(r)
}

func isBoundary(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

// CountWords counts runs of letters and digits.
func CountWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if !inWord {
				n++
				inWord = true
			}
			continue
		}
		// Hyphenated and apostrophe compounds count as one word.
		if inWord && (r == '-' || r == '\'') {
			continue
		}
		inWord = false
	}
	return n
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeOffsetToByte(s string, runeIdx int) int {
	if runeIdx <= 0 {
		return 0
	}
	i := 0
	for pos := range s {
		if i == runeIdx {
			return pos
		}
		i++
	}
	if runeIdx >= utf8.RuneCountInString(s) {
		return len(s)
	}
	return -1
}
