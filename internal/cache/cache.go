// Package cache provides the short-lived key/value abstraction behind the
// consent challenge hand-off. Backends: in-process memory (dev/test) and
// Redis (multi-instance deployments).
//
// Only ephemeral, re-creatable state belongs here; tokens, codes and
// consent records live in the store, which owns the atomicity guarantees.
package cache

import (
	"context"
	"time"
)

// Client is a TTL'd byte cache.
type Client interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with a TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)

	// Delete removes a key.
	Delete(ctx context.Context, key string)

	// Close releases backend resources.
	Close() error
}
