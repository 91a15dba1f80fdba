// Package combinator provides steps that wrap other steps: a bounded,
// optionally expiring memoization cache and a conditional retry.
package combinator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/pipeline"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	// MaxSize is the number of entries kept. It must be at least 1.
	MaxSize int
	// MaxAge is the lifetime of an entry. Zero keeps entries until evicted.
	MaxAge time.Duration
	// Normalizer derives the cache key from the step input and the
	// execution context. Defaults to the JSON encoding of the input.
	Normalizer func(value any, c *pipeline.Context) (string, error)
	// Now is the clock used for expiry.
	Now func() time.Time
}

type cacheEntry struct {
	value   any
	expires time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Cache memoizes the successful results of a step by normalized input.
// Errors are not cached. When full, the oldest inserted entry is evicted;
// reads never reorder entries.
type Cache struct {
	step pipeline.Step
	opts CacheOptions

	mu      sync.Mutex
	entries *simplelru.LRU[string, cacheEntry]
}

// NewCache wraps step with a cache.
func NewCache(step pipeline.Step, opts CacheOptions) (*Cache, error) {
	if step == nil {
		return nil, &domain.InvalidPipelineDefinitionError{Reason: "cache step is nil"}
	}
	if opts.MaxSize < 1 {
		return nil, &domain.InvalidPipelineDefinitionError{
			Reason: fmt.Sprintf("cache max size must be at least 1, got %d", opts.MaxSize),
		}
	}
	if opts.Normalizer == nil {
		opts.Normalizer = JSONKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	entries, err := simplelru.NewLRU[string, cacheEntry](opts.MaxSize, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{step: step, opts: opts, entries: entries}, nil
}

// JSONKey is the default cache key: the JSON encoding of value. The context
// is not part of the key.
func JSONKey(value any, _ *pipeline.Context) (string, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Invoke returns the cached value for the input when live, else runs the
// wrapped step and stores its result.
func (c *Cache) Invoke(value any, ctx *pipeline.Context, inst pipeline.Instance) pipeline.Result {
	key, err := c.opts.Normalizer(value, ctx)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("cache key: %w", err))
	}
	if v, ok := c.lookup(key); ok {
		return pipeline.Sync(v)
	}

	r := c.step.Invoke(value, ctx, inst)
	if !r.IsPending() {
		if r.Err() == nil {
			v, _ := r.Wait()
			c.insert(key, v)
		}
		return r
	}

	fut := r.Future()
	return pipeline.Pending(pipeline.Spawn(func() (any, error) {
		v, err := fut.Wait()
		if err == nil {
			c.insert(key, v)
		}
		return v, err
	}))
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if !ok {
		return nil, false
	}
	if e.expired(c.opts.Now()) {
		c.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) insert(key string, v any) {
	e := cacheEntry{value: v}
	if c.opts.MaxAge > 0 {
		e.expires = c.opts.Now().Add(c.opts.MaxAge)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-inserting must not keep the key's old position.
	c.entries.Remove(key)
	if c.entries.Len() >= c.opts.MaxSize {
		c.entries.RemoveOldest()
	}
	c.entries.Add(key, e)
}

// Store returns the live entries by key.
func (c *Cache) Store() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	out := make(map[string]any, c.entries.Len())
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && !e.expired(now) {
			out[key] = e.value
		}
	}
	return out
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return len(c.Store())
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
