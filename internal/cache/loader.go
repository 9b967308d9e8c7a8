package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Loader fronts an LRUCache with singleflight so concurrent misses for the
// same key run the load function once.
type Loader[T any] struct {
	cache *LRUCache[T]
	group singleflight.Group

	// mu guards gens. A load stores its result only if the key's generation
	// did not move while it ran.
	mu   sync.Mutex
	gens map[string]uint64
}

func NewLoader[T any](c *LRUCache[T]) *Loader[T] {
	return &Loader[T]{cache: c, gens: make(map[string]uint64)}
}

// Get returns the cached value or loads, stores and returns it. Load errors
// are not cached.
func (l *Loader[T]) Get(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	if v, ok := l.cache.Get(key); ok {
		return v, nil
	}
	v, err, _ := l.group.Do(key, func() (any, error) {
		if v, ok := l.cache.Get(key); ok {
			return v, nil
		}
		gen := l.generation(key)
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		l.mu.Lock()
		if l.gens[key] == gen {
			l.cache.Set(key, v)
		}
		l.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops key and forgets any in-flight load for it. A load that
// started before the call still returns to its callers but is not cached.
func (l *Loader[T]) Invalidate(key string) {
	l.mu.Lock()
	l.gens[key]++
	l.cache.Delete(key)
	l.mu.Unlock()
	l.group.Forget(key)
}

func (l *Loader[T]) generation(key string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[key]
}

func (l *Loader[T]) CleanExpired() int {
	return l.cache.CleanExpired()
}
