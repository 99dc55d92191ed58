package cache

import (
	"context"
	"time"
)

type Status string

const (
	StatusHit   Status = "hit"
	StatusMiss  Status = "miss"
	StatusError Status = "error"
)

// Cache reads through Store and coalesces misses through Batcher. Results of a successful
// batch are stored before any waiter is released.
type Cache[Req, V any] struct {
	Store   *MemoryStore[V]
	Batcher *Batcher[Req, V]
	key     func(Req) string
}

func NewCache[Req, V any](store *MemoryStore[V], fetch BatchFunc[Req, V], key func(Req) string, ttl func(Req) time.Duration, cfg BatcherConfig) *Cache[Req, V] {
	if ttl == nil {
		ttl = func(Req) time.Duration { return 0 }
	}
	c := &Cache[Req, V]{Store: store, key: key}
	c.Batcher = NewBatcher(func(ctx context.Context, reqs []Req) ([]V, error) {
		results, err := fetch(ctx, reqs)
		if err != nil {
			return nil, err
		}
		stored := make(map[string]struct{}, 1)
		for i := 0; i < len(results) && i < len(reqs); i++ {
			k := key(reqs[i])
			if _, ok := stored[k]; ok {
				continue
			}
			store.Set(k, results[i], ttl(reqs[i]))
			stored[k] = struct{}{}
		}
		return results, nil
	}, key, cfg)
	return c
}

func (c *Cache[Req, V]) Key(req Req) string {
	return c.key(req)
}

func (c *Cache[Req, V]) Fetch(ctx context.Context, req Req) (V, Status, error) {
	if value, ok := c.Store.Get(c.key(req)); ok {
		return value, StatusHit, nil
	}
	value, err := c.Batcher.Add(req).Wait(ctx)
	if err != nil {
		var zero V
		return zero, StatusError, err
	}
	return value, StatusMiss, nil
}

// Close fails every caller still waiting on the batcher and empties the store.
func (c *Cache[Req, V]) Close() int {
	failed := c.Batcher.Close()
	c.Store.Clear()
	return failed
}
