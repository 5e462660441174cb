// Package ratelimit gates outbound requests behind token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Gate blocks callers until a send slot is available. It never drops or fails
// a request on its own; blocking is the only effect. Safe for concurrent use.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate builds a token bucket holding capacity tokens refilled once per
// interval. Non-positive arguments produce an ungated instance.
func NewGate(capacity int, interval time.Duration) *Gate {
	if capacity <= 0 || interval <= 0 {
		return &Gate{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &Gate{limiter: rate.NewLimiter(rate.Every(interval), capacity)}
}

// Acquire blocks until a slot is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("acquire rate slot: %w", err)
	}
	return nil
}
