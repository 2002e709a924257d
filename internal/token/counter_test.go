package token

import (
	"fmt"
	"testing"
	"time"
)

func TestEstimateHeuristic(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
	}
	for _, tc := range cases {
		got := Estimate(tc.text)
		if got.Count != tc.want {
			t.Fatalf("Estimate(%q).Count=%d, want %d", tc.text, got.Count, tc.want)
		}
		if got.Exact {
			t.Fatalf("Estimate(%q) must be flagged inexact", tc.text)
		}
	}
}

func TestCountNeverFails(t *testing.T) {
	c := NewCounter(0, 0)

	// Whatever tokenizer is reachable, counting must produce a usable
	// result for any model id.
	for _, model := range []string{"gpt-4o", "no-such-model-xyz", ""} {
		got := c.Count("some text worth counting", model)
		if got.Count <= 0 {
			t.Fatalf("model %q: expected positive count, got %d", model, got.Count)
		}
	}
}

func TestCountFallsBackToEstimate(t *testing.T) {
	c := NewCounter(0, 0)
	// Force the unavailable-tokenizer path.
	c.encoders["forced-offline"] = nil

	got := c.Count("abcdefgh", "forced-offline")
	if got.Exact {
		t.Fatal("offline path must be flagged inexact")
	}
	if got.Count != 2 {
		t.Fatalf("expected chars/4 estimate 2, got %d", got.Count)
	}
}

func TestCacheHitServesStoredResult(t *testing.T) {
	c := NewCounter(10, time.Minute)
	c.encoders["m"] = nil
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	first := c.Count("cache me", "m")

	// Poison the cached value; a hit returns it, a miss recomputes.
	key := cacheKey("cache me", "m")
	entry := c.cache[key]
	entry.result.Count = 9999
	c.cache[key] = entry

	if got := c.Count("cache me", "m"); got.Count != 9999 {
		t.Fatalf("expected cached result 9999, got %d (first was %d)", got.Count, first.Count)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCounter(10, time.Minute)
	c.encoders["m"] = nil
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Count("expiring", "m")
	key := cacheKey("expiring", "m")
	entry := c.cache[key]
	entry.result.Count = 9999
	c.cache[key] = entry

	now = now.Add(2 * time.Minute)
	if got := c.Count("expiring", "m"); got.Count == 9999 {
		t.Fatal("expected TTL to evict the poisoned value")
	}
}

func TestCacheCapacityEviction(t *testing.T) {
	c := NewCounter(3, time.Hour)
	c.encoders["m"] = nil
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		c.Count(fmt.Sprintf("text number %d", i), "m")
		now = now.Add(time.Second)
	}

	if len(c.cache) != 3 {
		t.Fatalf("expected capacity-bounded cache of 3, got %d", len(c.cache))
	}
	if _, ok := c.cache[cacheKey("text number 0", "m")]; ok {
		t.Fatal("expected the oldest entry to be evicted")
	}
	if _, ok := c.cache[cacheKey("text number 3", "m")]; !ok {
		t.Fatal("expected the newest entry to be cached")
	}
}

func TestDistinctModelsCacheSeparately(t *testing.T) {
	c := NewCounter(10, time.Minute)
	c.encoders["a"] = nil
	c.encoders["b"] = nil

	c.Count("shared text", "a")
	c.Count("shared text", "b")
	if len(c.cache) != 2 {
		t.Fatalf("expected per-model cache keys, got %d entries", len(c.cache))
	}
}
