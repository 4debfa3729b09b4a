package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type Options struct {
	// Prefix namespaces keys in redis.
	Prefix     string
	LocalTTL   time.Duration
	RemoteTTL  time.Duration
	MaxEntries int
}

// Layered is a read-mostly cache with a bounded in-process tier in front of
// redis. Readers must tolerate values up to LocalTTL + RemoteTTL old.
type Layered[V any] struct {
	log  *log.Logger
	rdb  *redis.Client
	opts Options
	now  func() time.Time

	mu    sync.Mutex
	local map[string]entry[V]
}

func NewLayered[V any](logger *log.Logger, rdb *redis.Client, opts Options) *Layered[V] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10000
	}
	if opts.RemoteTTL <= 0 {
		opts.RemoteTTL = opts.LocalTTL
	}

	return &Layered[V]{
		log:   logger,
		rdb:   rdb,
		opts:  opts,
		now:   time.Now,
		local: make(map[string]entry[V]),
	}
}

func (c *Layered[V]) key(k string) string {
	return c.opts.Prefix + ":" + k
}

func (c *Layered[V]) getLocal(k string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.local[k]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.local, k)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Layered[V]) setLocal(k string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, ok := c.local[k]; !ok && len(c.local) >= c.opts.MaxEntries {
		c.evictLocked(now)
	}
	c.local[k] = entry[V]{value: v, expiresAt: now.Add(c.opts.LocalTTL)}
}

// evictLocked drops expired entries, falling back to the entry closest to expiry.
func (c *Layered[V]) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, e := range c.local {
		if !now.Before(e.expiresAt) {
			delete(c.local, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.expiresAt
		}
	}
	if len(c.local) >= c.opts.MaxEntries && oldestKey != "" {
		delete(c.local, oldestKey)
	}
}

// Get checks the local tier, then redis. A redis hit refreshes the local tier.
func (c *Layered[V]) Get(ctx context.Context, k string) (V, bool) {
	if v, ok := c.getLocal(k); ok {
		return v, true
	}

	var zero V
	if c.rdb == nil {
		return zero, false
	}

	raw, err := c.rdb.Get(ctx, c.key(k)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Printf("cache: get %q: %v", k, err)
		}
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		c.log.Printf("cache: decode %q: %v", k, err)
		return zero, false
	}

	c.setLocal(k, v)
	return v, true
}

// Set writes through both tiers. Redis failures are logged, the local tier is
// always updated.
func (c *Layered[V]) Set(ctx context.Context, k string, v V) {
	c.setLocal(k, v)

	if c.rdb == nil {
		return
	}

	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Printf("cache: encode %q: %v", k, err)
		return
	}
	if err := c.rdb.Set(ctx, c.key(k), raw, c.opts.RemoteTTL).Err(); err != nil {
		c.log.Printf("cache: set %q: %v", k, err)
	}
}

func (c *Layered[V]) Delete(ctx context.Context, k string) {
	c.mu.Lock()
	delete(c.local, k)
	c.mu.Unlock()

	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.key(k)).Err(); err != nil {
		c.log.Printf("cache: delete %q: %v", k, err)
	}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Load errors are returned and nothing is cached.
func (c *Layered[V]) GetOrLoad(ctx context.Context, k string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(ctx, k); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("load %q: %w", k, err)
	}

	c.Set(ctx, k, v)
	return v, nil
}

func (c *Layered[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}
