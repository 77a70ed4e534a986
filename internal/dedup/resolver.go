package dedup

import (
	"context"
	"fmt"

	"github.com/maypok86/otter"
	"golang.org/x/sync/singleflight"
)

// Producer computes the value for a key on a cache miss.
type Producer[V any] func(ctx context.Context) (V, error)

// Resolver guarantees that at most one producer runs per key at any time.
// Concurrent callers for the same key share the in-flight computation, and
// usable results are kept in a bounded cache with oldest-entry eviction.
// Producer failures are never cached.
type Resolver[V any] struct {
	group  singleflight.Group
	cache  otter.Cache[string, V]
	usable func(V) bool
}

// NewResolver creates a Resolver bounded to capacity cached entries. The
// usable predicate decides whether a produced value is worth caching; nil
// means every successful result is cached.
func NewResolver[V any](capacity int, usable func(V) bool) (*Resolver[V], error) {
	cache, err := otter.MustBuilder[string, V](capacity).
		Cost(func(_ string, _ V) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &Resolver[V]{cache: cache, usable: usable}, nil
}

// Resolve returns the cached value for key, or joins the in-flight
// computation for it, or starts produce. For N concurrent callers with the
// same key the producer runs exactly once and all observe the same outcome.
func (r *Resolver[V]) Resolve(ctx context.Context, key string, produce Producer[V]) (V, error) {
	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Another caller may have populated the cache while we queued.
		if v, ok := r.cache.Get(key); ok {
			return v, nil
		}
		v, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		if r.usable == nil || r.usable(v) {
			r.cache.Set(key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Cached returns the cached value for key without triggering production.
func (r *Resolver[V]) Cached(key string) (V, bool) {
	return r.cache.Get(key)
}

// Put seeds the cache directly, subject to the usable predicate.
func (r *Resolver[V]) Put(key string, v V) {
	if r.usable == nil || r.usable(v) {
		r.cache.Set(key, v)
	}
}

// Size returns the number of cached entries.
func (r *Resolver[V]) Size() int {
	return r.cache.Size()
}

// Close releases the underlying cache.
func (r *Resolver[V]) Close() {
	r.cache.Close()
}
