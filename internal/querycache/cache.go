// Package querycache keeps the latest backend read per (session, view) so a
// failed refetch can fall back to the previous data.
package querycache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// View names used in cache keys.
const (
	KeyServices           = "services"
	KeyMyAppointments     = "my-appointments"
	KeyAllAppointments    = "all-appointments"
	KeyQueueStatus        = "queue-status"
	KeyAnalytics          = "analytics"
	KeyServicePerformance = "service-performance"
	KeyContacts           = "contacts"
)

// Refetch intervals for the polled views.
const (
	IntervalAnalytics       = 30 * time.Second
	IntervalAllAppointments = 30 * time.Second
	IntervalQueueStatus     = 15 * time.Second
	IntervalMyAppointments  = 30 * time.Second
)

// Key namespaces a view name under a session.
func Key(sessionID, view string) string {
	return sessionID + ":" + view
}

// SessionPrefix matches every key of a session.
func SessionPrefix(sessionID string) string {
	return sessionID + ":"
}

type entry struct {
	value     any
	fetchedAt time.Time
	valid     bool
}

// Options configures a Cache.
type Options struct {
	Size int
	TTL  time.Duration
	// FreshFor is how long a value is served without refetching.
	FreshFor time.Duration
	Now      func() time.Time
}

// Cache is a bounded, expiring store of query results.
type Cache struct {
	mu       sync.Mutex
	entries  *expirable.LRU[string, entry]
	freshFor time.Duration
	now      func() time.Time
	loads    singleflight.Group
}

func New(opts Options) *Cache {
	if opts.Size <= 0 {
		opts.Size = 2048
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.FreshFor < 0 {
		opts.FreshFor = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		entries:  expirable.NewLRU[string, entry](opts.Size, nil, opts.TTL),
		freshFor: opts.FreshFor,
		now:      opts.Now,
	}
}

// Result is the outcome of a Load.
type Result[T any] struct {
	Value     T
	Found     bool
	Stale     bool
	Err       error
	FetchedAt time.Time
}

// Failed is true when no data could be produced at all.
func (r Result[T]) Failed() bool {
	return !r.Found && r.Err != nil
}

// Load returns the cached value for key if it is fresh, otherwise fetches.
// When the fetch fails and a previous value exists, that value is returned
// with Stale set and the error attached.
func Load[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error)) Result[T] {
	if e, ok := c.lookup(key); ok && e.valid && c.now().Sub(e.fetchedAt) < c.freshFor {
		if v, ok := e.value.(T); ok {
			return Result[T]{Value: v, Found: true, FetchedAt: e.fetchedAt}
		}
	}

	_, err, _ := c.loads.Do(key, func() (interface{}, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return nil, nil
	})

	e, ok := c.lookup(key)
	var zero T
	if !ok {
		return Result[T]{Value: zero, Err: err}
	}
	v, typed := e.value.(T)
	if !typed {
		return Result[T]{Value: zero, Err: err}
	}
	return Result[T]{Value: v, Found: true, Stale: err != nil, Err: err, FetchedAt: e.fetchedAt}
}

// Peek returns the cached value without fetching.
func Peek[T any](c *Cache, key string) (T, bool) {
	var zero T
	e, ok := c.lookup(key)
	if !ok {
		return zero, false
	}
	v, ok := e.value.(T)
	return v, ok
}

func (c *Cache) lookup(key string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(key)
}

// Set stores a fresh value.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry{value: value, fetchedAt: c.now(), valid: true})
}

// Invalidate marks keys as needing a refetch. Their values stay available
// as a fallback.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if e, ok := c.entries.Peek(key); ok {
			e.valid = false
			c.entries.Add(key, e)
		}
	}
}

// InvalidatePrefix invalidates every key starting with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e, ok := c.entries.Peek(key); ok {
			e.valid = false
			c.entries.Add(key, e)
		}
	}
}

// Remove drops every key starting with prefix.
func (c *Cache) Remove(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
}

// Update rewrites a cached value in place. fn is not called when the key is
// absent or holds a different type.
func Update[T any](c *Cache, key string, fn func(T) T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Peek(key)
	if !ok {
		return false
	}
	v, ok := e.value.(T)
	if !ok {
		return false
	}
	e.value = fn(v)
	c.entries.Add(key, e)
	return true
}
