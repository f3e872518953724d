// Package memo provides an in-process TTL cache for call results.
package memo

import (
	"sync"
	"time"
)

type entry[V any] struct {
	val      V
	storedAt time.Time
}

// Cache memoizes the results of a computation per key for a fixed TTL.
// Entries are only ever replaced, never evicted: staleness is time
// bounded, memory is not. There is no single-flight guarantee either;
// concurrent callers racing on a cold key may all run the computation,
// which is fine for the idempotent reads this wraps.
type Cache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[K]entry[V]
}

func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl: ttl,
		now: time.Now,
		m:   make(map[K]entry[V]),
	}
}

// Do returns the cached value for key if it is younger than the TTL,
// otherwise runs compute and stores its result. A compute error is
// returned as-is and nothing is stored.
func (c *Cache[K, V]) Do(key K, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, ok := c.m[key]; ok && c.now().Sub(e.storedAt) < c.ttl {
		c.mu.Unlock()
		return e.val, nil
	}
	c.mu.Unlock()

	// Deliberately computed outside the lock: a slow upstream call must
	// not serialize unrelated keys.
	val, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.m[key] = entry[V]{val: val, storedAt: c.now()}
	c.mu.Unlock()
	return val, nil
}

// Len reports the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
