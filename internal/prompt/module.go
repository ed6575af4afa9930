package prompt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"defgen/internal/rules"
)

// Tier decides when a module is selected.
type Tier int

const (
	// TierCore modules always run.
	TierCore Tier = iota
	// TierConditional modules run when their predicate holds.
	TierConditional
	// TierOptional modules run when their predicate holds and the budget allows.
	TierOptional
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierCore:
		return "core"
	case TierConditional:
		return "conditional"
	case TierOptional:
		return "optional"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// DirectiveKind classifies what a section asks of the generated text.
type DirectiveKind string

const (
	DirectiveRequired      DirectiveKind = "required"
	DirectiveForbidden     DirectiveKind = "forbidden"
	DirectiveInformational DirectiveKind = "informational"
)

// Section is one unit of instruction text. Constraint sections carry the
// matcher they ask for (or against) and the rules it comes from; a
// constraint section may have no text of its own.
type Section struct {
	Text         string         `json:"text,omitempty"`
	OriginModule string         `json:"origin_module"`
	Directive    DirectiveKind  `json:"directive"`
	Pattern      *rules.Matcher `json:"pattern,omitempty"`
	RuleIDs      []string       `json:"rule_ids,omitempty"`
	Tokens       int            `json:"tokens"`
}

// IsConstraint reports whether the section asks for or against a pattern.
func (s Section) IsConstraint() bool {
	return s.Pattern != nil && s.Directive != DirectiveInformational
}

// Spec is the static metadata of a module.
type Spec struct {
	ID       string
	Title    string // heading used when rendering; empty = no heading
	Tier     Tier
	Priority int // optional-phase tie-break, higher runs first
	// Mandatory modules abort assembly when they fail.
	Mandatory bool
	// Static modules depend only on the catalog; their output is cached per
	// catalog version.
	Static bool
	Reads  []string
	Writes []StateKey
}

// Input is what a module sees during one run.
type Input struct {
	Context *ModuleContext
	Catalog *rules.Catalog
	State   *StateView
}

// Module is one instruction module. Execute must be idempotent for a given
// context and catalog version.
type Module interface {
	Spec() Spec
	// Relevant is the selection predicate for conditional and optional modules.
	Relevant(mctx *ModuleContext) bool
	Execute(ctx context.Context, in Input) ([]Section, error)
}

// EstimateTokens estimates the token count for content using chars/4 approximation.
// This is a fast heuristic; actual tokenization may vary by model.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + 3) / 4
}

// HashContent computes a SHA256 hash of content.
func HashContent(content string) string {
	if content == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// normalizeSections stamps origin, directive and token estimates.
func normalizeSections(moduleID string, in []Section) []Section {
	out := make([]Section, 0, len(in))
	for _, s := range in {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" && s.Pattern == nil {
			continue
		}
		s.OriginModule = moduleID
		if s.Directive == "" {
			s.Directive = DirectiveInformational
		}
		s.Tokens = EstimateTokens(s.Text)
		out = append(out, s)
	}
	return out
}

func sectionTokens(sections []Section) int {
	n := 0
	for _, s := range sections {
		n += s.Tokens
	}
	return n
}

func cloneSections(in []Section) []Section {
	if in == nil {
		return nil
	}
	out := make([]Section, len(in))
	for i, s := range in {
		s.RuleIDs = append([]string(nil), s.RuleIDs...)
		out[i] = s
	}
	return out
}
