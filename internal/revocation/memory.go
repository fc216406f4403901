package revocation

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process denylist for single-node deployments and tests.
type MemoryStore struct {
	c *gocache.Cache
}

// NewMemoryStore creates a store that sweeps expired entries every cleanup interval.
func NewMemoryStore(cleanup time.Duration) *MemoryStore {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanup)}
}

func (s *MemoryStore) Put(_ context.Context, token, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.c.Set(key(token), reason, ttl)
	return nil
}

func (s *MemoryStore) Contains(_ context.Context, token string) (bool, error) {
	_, ok := s.c.Get(key(token))
	return ok, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
