// Package ratelimit budgets operations with golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket.
type Limiter struct {
	limiter *rate.Limiter
}

// PerMinute allows n events per minute with a burst of n/10, at least 1.
func PerMinute(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(float64(n)/60), max(n/10, 1))}
}

// Every allows one event per interval with the given burst.
func Every(interval time.Duration, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), max(burst, 1))}
}

// Allow takes a token if one is available now. Otherwise it reports how
// long until one will be, without consuming anything.
func (l *Limiter) Allow() (bool, time.Duration) {
	r := l.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
