package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// rateLimited spaces calls to the wrapped completer.
type rateLimited struct {
	next    Completer
	limiter *rate.Limiter
}

// WithRateLimit limits c to perMinute calls; perMinute <= 0 returns c.
// Waiting for a slot honours the caller's context.
func WithRateLimit(c Completer, perMinute int) Completer {
	if perMinute <= 0 {
		return c
	}
	return &rateLimited{
		next:    c,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Name() string { return r.next.Name() }

func (r *rateLimited) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Complete(ctx, req)
}
