// Package rate implements fixed-window request limiting keyed by
// identifier+route composites.
package rate

import (
	"context"
	"time"

	"github.com/bastionlabs/bastion/internal/store"
)

// Result of one Allow check.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter decides whether a keyed request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// StoreLimiter counts through the storage contract, whose
// IncrementRateLimit is atomic; every instance sharing a backend shares
// the window.
type StoreLimiter struct {
	Storage store.Storage
	Max     int64
	Window  time.Duration
}

// NewStoreLimiter builds a limiter over the given storage backend.
func NewStoreLimiter(s store.Storage, max int64, window time.Duration) *StoreLimiter {
	return &StoreLimiter{Storage: s, Max: max, Window: window}
}

func (l *StoreLimiter) Allow(ctx context.Context, key string) (Result, error) {
	c, err := l.Storage.IncrementRateLimit(ctx, key, l.Window)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Allowed:     c.Count <= l.Max,
		Remaining:   l.Max - c.Count,
		CurrentHits: c.Count,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(c.ResetAt)
		if res.RetryAfter < 0 {
			res.RetryAfter = l.Window
		}
	}
	return res, nil
}
