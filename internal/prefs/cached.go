package prefs

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/observability"
)

var _ Store = (*CachedStore)(nil)

// CachedStore puts an in-memory L1 (S3-FIFO, via otter) in front of a remote
// backend. Writes go to the backend first and only then to memory, so a failed
// write never leaves the cache ahead of the durable copy.
type CachedStore struct {
	inner Store
	l1    otter.Cache[string, string]
}

// NewCachedStore wraps inner with a bounded L1 cache.
// capacity is the hard cap on entries; ttl bounds staleness when another
// process writes the same backend.
func NewCachedStore(inner Store, capacity int, ttl time.Duration) (*CachedStore, error) {
	if inner == nil {
		panic("prefs: inner store cannot be nil")
	}

	l1, err := otter.MustBuilder[string, string](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build prefs cache: %w", err)
	}

	return &CachedStore{inner: inner, l1: l1}, nil
}

func (s *CachedStore) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.l1.Get(key); ok {
		observability.PrefsCacheHits.Inc()
		return v, true, nil
	}
	observability.PrefsCacheMisses.Inc()

	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	s.l1.Set(key, v)
	return v, true, nil
}

func (s *CachedStore) Set(ctx context.Context, key, value string) error {
	if err := s.inner.Set(ctx, key, value); err != nil {
		return err
	}
	s.l1.Set(key, value)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.inner.Delete(ctx, key); err != nil {
		return err
	}
	s.l1.Delete(key)
	return nil
}

// Close stops the cache's background goroutines. It does not close the inner store.
func (s *CachedStore) Close() {
	s.l1.Close()
}
