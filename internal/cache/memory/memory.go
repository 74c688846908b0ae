// Package memory backs the cache with patrickmn/go-cache.
package memory

import (
	"context"
	"time"

	"github.com/bastionlabs/bastion/internal/cache"
	gocache "github.com/patrickmn/go-cache"
)

type Mem struct{ c *gocache.Cache }

// New creates an in-process cache with the given default TTL.
func New(defaultTTL time.Duration) cache.Client {
	return &Mem{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *Mem) Get(ctx context.Context, k string) ([]byte, bool) {
	v, ok := m.c.Get(k)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	return b, true
}

func (m *Mem) Set(ctx context.Context, k string, v []byte, ttl time.Duration) {
	m.c.Set(k, v, ttl)
}

func (m *Mem) Delete(ctx context.Context, k string) { m.c.Delete(k) }

func (m *Mem) Close() error { return nil }
