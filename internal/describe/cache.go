package describe

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"soqlrestore/internal/observability"
)

const globalKey = "\x00global"

// Cache memoizes describe calls for the lifetime of one restore. Concurrent
// requests for the same object share a single transport call; failed calls
// are not cached so a later Get retries.
type Cache struct {
	transport Transport
	metrics   *observability.DescribeMetrics
	group     singleflight.Group

	mu      sync.RWMutex
	objects map[string]*Object
	global  []ObjectSummary
	loaded  bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheMetrics records lookups and transport calls.
func WithCacheMetrics(metrics *observability.DescribeMetrics) CacheOption {
	return func(c *Cache) {
		c.metrics = metrics
	}
}

// NewCache creates an empty cache over transport.
func NewCache(transport Transport, opts ...CacheOption) *Cache {
	c := &Cache{
		transport: transport,
		objects:   make(map[string]*Object),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the describe for name. Names are matched case-insensitively.
func (c *Cache) Get(ctx context.Context, name string) (*Object, error) {
	key := strings.ToLower(name)

	c.mu.RLock()
	obj, ok := c.objects[key]
	c.mu.RUnlock()
	if ok {
		c.recordLookup(ctx, observability.LookupHit)
		return obj, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// A call that finished between the read above and Do has already
		// stored its result.
		c.mu.RLock()
		cached, ok := c.objects[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		start := time.Now()
		obj, err := c.transport.DescribeObject(ctx, name)
		c.recordCall(ctx, start, "object", err)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.objects[key] = obj
		c.mu.Unlock()
		return obj, nil
	})
	if shared {
		c.recordLookup(ctx, observability.LookupShared)
	} else {
		c.recordLookup(ctx, observability.LookupMiss)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Object), nil
}

// Global returns the global describe.
func (c *Cache) Global(ctx context.Context) ([]ObjectSummary, error) {
	c.mu.RLock()
	global, ok := c.global, c.loaded
	c.mu.RUnlock()
	if ok {
		c.recordLookup(ctx, observability.LookupHit)
		return global, nil
	}

	v, err, _ := c.group.Do(globalKey, func() (any, error) {
		c.mu.RLock()
		global, ok := c.global, c.loaded
		c.mu.RUnlock()
		if ok {
			return global, nil
		}

		start := time.Now()
		global, err := c.transport.DescribeGlobal(ctx)
		c.recordCall(ctx, start, "global", err)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.global, c.loaded = global, true
		c.mu.Unlock()
		return global, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ObjectSummary), nil
}

// Len returns the number of cached object describes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.objects)
}

func (c *Cache) recordLookup(ctx context.Context, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(ctx, result)
	}
}

func (c *Cache) recordCall(ctx context.Context, start time.Time, op string, err error) {
	if c.metrics != nil {
		c.metrics.RecordCall(ctx, time.Since(start), op, err == nil)
	}
}
