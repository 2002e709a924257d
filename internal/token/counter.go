// Package token estimates token costs for budget decisions, preferring a
// precise tokenizer and degrading to an offline heuristic when one cannot
// be loaded.
package token

import (
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultCacheCapacity bounds the count cache.
	DefaultCacheCapacity = 50
	// DefaultCacheTTL expires cached counts.
	DefaultCacheTTL = 5 * time.Minute

	fallbackEncoding = "cl100k_base"
	// heuristicCharsPerToken is the offline estimator ratio.
	heuristicCharsPerToken = 4
)

// Result is a token count plus whether it came from a real tokenizer.
// Inexact results should get a safety margin in budget decisions.
type Result struct {
	Count int
	Exact bool
}

type cacheEntry struct {
	result   Result
	cachedAt time.Time
}

// Counter counts tokens with a bounded, TTL-expiring cache keyed by
// (text hash, model). Counting never fails past this boundary; any
// tokenizer problem degrades to the heuristic estimate.
type Counter struct {
	mu       sync.Mutex
	cache    map[string]cacheEntry
	capacity int
	ttl      time.Duration
	encoders map[string]*tiktoken.Tiktoken
	now      func() time.Time
}

// NewCounter builds a counter with the given cache bounds; zero values
// pick the defaults.
func NewCounter(capacity int, ttl time.Duration) *Counter {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Counter{
		cache:    make(map[string]cacheEntry),
		capacity: capacity,
		ttl:      ttl,
		encoders: make(map[string]*tiktoken.Tiktoken),
		now:      time.Now,
	}
}

// Count returns the token cost of text for modelID. Cache hits are served
// until TTL or capacity evicts them; misses recompute and repopulate.
func (c *Counter) Count(text, modelID string) Result {
	key := cacheKey(text, modelID)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if hit, ok := c.cache[key]; ok {
		if now.Sub(hit.cachedAt) < c.ttl {
			return hit.result
		}
		delete(c.cache, key)
	}

	result := c.count(text, modelID)

	if len(c.cache) >= c.capacity {
		c.evictOldest()
	}
	c.cache[key] = cacheEntry{result: result, cachedAt: now}
	return result
}

func (c *Counter) count(text, modelID string) (result Result) {
	// A tokenizer panic must not escape; it degrades to the estimate.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[token] tokenizer panic for model %s: %v", modelID, r)
			result = estimate(text)
		}
	}()

	enc, err := c.encoderFor(modelID)
	if err != nil {
		return estimate(text)
	}
	return Result{Count: len(enc.Encode(text, nil, nil)), Exact: true}
}

func (c *Counter) encoderFor(modelID string) (*tiktoken.Tiktoken, error) {
	if enc, ok := c.encoders[modelID]; ok {
		if enc == nil {
			return nil, fmt.Errorf("tokenizer unavailable for %s", modelID)
		}
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
	}
	if err != nil {
		log.Printf("[token] no tokenizer for model %s, using estimate: %v", modelID, err)
		c.encoders[modelID] = nil
		return nil, err
	}
	c.encoders[modelID] = enc
	return enc, nil
}

func (c *Counter) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for k, v := range c.cache {
		if oldestKey == "" || v.cachedAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = v.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}

// Estimate is the offline heuristic: a fixed characters-per-token ratio,
// always flagged inexact.
func Estimate(text string) Result { return estimate(text) }

func estimate(text string) Result {
	n := (len(text) + heuristicCharsPerToken - 1) / heuristicCharsPerToken
	if n == 0 && text != "" {
		n = 1
	}
	return Result{Count: n, Exact: false}
}

func cacheKey(text, modelID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x|%s", h.Sum64(), modelID)
}
