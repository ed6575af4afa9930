package prompt

import (
	"defgen/internal/logging"
)

// TokenBudget tracks the running token estimate of one assembly.
// Core and conditional output is always admitted; optional output is
// admitted whole or not at all, and the first optional module that does
// not fit closes the budget for the rest of the run.
type TokenBudget struct {
	limit  int
	used   int
	closed bool
}

// NewTokenBudget creates a budget with the given limit in tokens.
func NewTokenBudget(limit int) *TokenBudget {
	return &TokenBudget{limit: limit}
}

// Limit returns the configured limit.
func (b *TokenBudget) Limit() int { return b.limit }

// Used returns the running estimate.
func (b *TokenBudget) Used() int { return b.used }

// Remaining returns the tokens left, never negative.
func (b *TokenBudget) Remaining() int {
	if b.used >= b.limit {
		return 0
	}
	return b.limit - b.used
}

// Over reports whether the estimate exceeds the limit.
func (b *TokenBudget) Over() bool { return b.used > b.limit }

// Closed reports whether the optional phase has been stopped.
func (b *TokenBudget) Closed() bool { return b.closed }

// Charge admits required output unconditionally.
func (b *TokenBudget) Charge(tokens int) {
	b.used += tokens
}

// TryAdmit admits optional output if it fits. The first refusal closes the
// budget.
func (b *TokenBudget) TryAdmit(moduleID string, tokens int) bool {
	if b.closed {
		return false
	}
	if b.used+tokens > b.limit {
		b.closed = true
		logging.AssemblyDebug("Budget closed at %s: %d used + %d > %d", moduleID, b.used, tokens, b.limit)
		return false
	}
	b.used += tokens
	return true
}
