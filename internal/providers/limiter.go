package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles outbound calls to a single backend. Waiting for a token
// does not count as a retry: the wrapped provider is still called at most once.
type Limited struct {
	Provider
	limiter *rate.Limiter
}

func NewLimited(p Provider, rps, burst int) *Limited {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 2
	}
	return &Limited{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Guess(ctx context.Context, img Image) (Guess, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Guess{}, fmt.Errorf("%s: rate limit wait: %w", l.Name(), err)
	}
	return l.Provider.Guess(ctx, img)
}
