// Package reqcache de-duplicates and caches backend reads. Entries are keyed
// by the request's operation name and parameters and go stale after a fixed
// TTL. Concurrent requests for the same key share a single backend call.
package reqcache

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSize         = 256
	defaultTTL          = 30 * time.Second
	defaultFetchTimeout = 30 * time.Second
)

// Cache is safe for concurrent use. A nil *Cache disables caching.
type Cache struct {
	entries      *expirable.LRU[string, any]
	group        singleflight.Group
	fetchTimeout time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithFetchTimeout bounds a shared backend call. Shared calls outlive the
// caller that started them, so they need their own deadline.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// New creates a cache holding at most size entries for ttl each. A zero or
// negative ttl falls back to 30s.
func New(size int, ttl time.Duration, opts ...Option) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &Cache{
		entries:      expirable.NewLRU[string, any](size, nil, ttl),
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds a cache key from an operation name and its parameters.
// Parameter order does not matter.
func Key(op string, params url.Values) string {
	if len(params) == 0 {
		return op
	}
	return op + "?" + params.Encode()
}

// Get returns the cached value for key, or calls fetch once and caches its
// result. Errors are never cached. The fetch runs detached from the
// cancellation of whichever caller started it; each caller still stops
// waiting when its own ctx is done.
func Get[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return fetch(ctx)
	}
	if v, ok := c.entries.Get(key); ok {
		if typed, ok := v.(T); ok {
			zap.L().Debug("reqcache: hit", zap.String("key", key))
			return typed, nil
		}
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		val, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, val)
		return val, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			zap.L().Debug("reqcache: shared in-flight request", zap.String("key", key))
		}
		return res.Val.(T), nil
	}
}

// Invalidate drops the entry stored under key. A bare operation name, such
// as "list", drops every entry of that operation whatever its parameters.
func (c *Cache) Invalidate(key string) int {
	if c == nil {
		return 0
	}
	n := 0
	for _, k := range c.entries.Keys() {
		if k == key || strings.HasPrefix(k, key+"?") {
			c.entries.Remove(k)
			n++
		}
	}
	return n
}

// Purge empties the cache.
func (c *Cache) Purge() {
	if c != nil {
		c.entries.Purge()
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}
