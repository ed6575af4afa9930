package prompt

import (
	"time"
)

// Manifest records how one instruction was assembled: which modules ran,
// which were skipped and why, and what came from cache.
type Manifest struct {
	Timestamp          time.Time `json:"timestamp"`
	CatalogVersion     string    `json:"catalog_version"`
	ContextFingerprint string    `json:"context_fingerprint"`
	Category           string    `json:"category"`
	Complexity         float64   `json:"complexity"`
	TokenEstimate      int       `json:"token_estimate"`
	BudgetLimit        int       `json:"budget_limit"`
	// OverBudget is set when core and conditional modules alone exceed the
	// budget.
	OverBudget bool          `json:"over_budget,omitempty"`
	Duration   time.Duration `json:"duration"`

	Included []IncludedModule `json:"included"`
	Skipped  []SkippedModule  `json:"skipped,omitempty"`
	Failed   []FailedModule   `json:"failed,omitempty"`
}

// IncludedModule details a module whose output made it into the instruction.
type IncludedModule struct {
	ID       string        `json:"id"`
	Tier     Tier          `json:"tier"`
	Sections int           `json:"sections"`
	Tokens   int           `json:"tokens"`
	CacheHit bool          `json:"cache_hit,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SkipReason explains why a module contributed nothing.
type SkipReason string

const (
	SkipNotRelevant     SkipReason = "not relevant"
	SkipBudgetExceeded  SkipReason = "budget exceeded"
	SkipBudgetExhausted SkipReason = "budget exhausted"
	SkipEmpty           SkipReason = "no output"
)

// SkippedModule details a module that was not included.
type SkippedModule struct {
	ID     string     `json:"id"`
	Tier   Tier       `json:"tier"`
	Reason SkipReason `json:"reason"`
}

// FailedModule details a non-mandatory module that failed and was excluded.
type FailedModule struct {
	ID    string `json:"id"`
	Tier  Tier   `json:"tier"`
	Error string `json:"error"`
}

// CacheHits counts included modules served from cache.
func (m *Manifest) CacheHits() int {
	n := 0
	for _, inc := range m.Included {
		if inc.CacheHit {
			n++
		}
	}
	return n
}

// IncludedIDs lists included module ids in assembly order.
func (m *Manifest) IncludedIDs() []string {
	out := make([]string, len(m.Included))
	for i, inc := range m.Included {
		out[i] = inc.ID
	}
	return out
}

// Skip returns the skip entry for a module.
func (m *Manifest) Skip(id string) (SkippedModule, bool) {
	for _, s := range m.Skipped {
		if s.ID == id {
			return s, true
		}
	}
	return SkippedModule{}, false
}
