package relevance

import (
	"testing"
	"time"

	"github.com/stellarlinkco/memvault/internal/store"
)

var scoreNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func agedEntry(days int, content string) store.Entry {
	return store.Entry{
		Category:  store.CategoryContext,
		Timestamp: scoreNow.Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339),
		Content:   content,
	}
}

func TestRecencyBoundaries(t *testing.T) {
	cases := []struct {
		days int
		want float64
	}{
		{6, 1.0},
		{7, 0.7},
		{8, 0.7},
		{30, 0.7},
		{31, 0.3},
		{90, 0.3},
		{91, 0.1},
	}
	for _, tc := range cases {
		got := RecencyWeight(agedEntry(tc.days, "x"), scoreNow)
		if got != tc.want {
			t.Fatalf("age %d days: weight=%v, want %v", tc.days, got, tc.want)
		}
	}
}

func TestRecencyTierBoundariesAreInclusive(t *testing.T) {
	// Exactly 30 days stays in the 0.7 tier; the 0.3 tier starts past it.
	e := store.Entry{Timestamp: scoreNow.Add(-30 * 24 * time.Hour).Format(time.RFC3339)}
	if got := RecencyWeight(e, scoreNow); got != 0.7 {
		t.Fatalf("exactly 30 days: weight=%v, want 0.7", got)
	}
	e.Timestamp = scoreNow.Add(-90 * 24 * time.Hour).Format(time.RFC3339)
	if got := RecencyWeight(e, scoreNow); got != 0.3 {
		t.Fatalf("exactly 90 days: weight=%v, want 0.3", got)
	}
}

func TestRecencyEdgeTimestamps(t *testing.T) {
	if got := RecencyWeight(store.Entry{Timestamp: ""}, scoreNow); got != 0.1 {
		t.Fatalf("missing timestamp: weight=%v, want 0.1", got)
	}
	if got := RecencyWeight(store.Entry{Timestamp: "not-a-date"}, scoreNow); got != 0.1 {
		t.Fatalf("malformed timestamp: weight=%v, want 0.1", got)
	}
	future := scoreNow.Add(48 * time.Hour).Format(time.RFC3339)
	if got := RecencyWeight(store.Entry{Timestamp: future}, scoreNow); got != 1.0 {
		t.Fatalf("future timestamp: weight=%v, want 1.0", got)
	}
}

func TestPriorityWeights(t *testing.T) {
	cases := []struct {
		cat  store.Category
		want float64
	}{
		{store.CategoryBrief, 1.5},
		{store.CategoryPattern, 1.4},
		{store.CategoryContext, 1.3},
		{store.CategoryDecision, 1.2},
		{store.CategoryProgress, 1.0},
		{store.Category("unknown"), 1.0},
	}
	for _, tc := range cases {
		if got := PriorityWeight(tc.cat); got != tc.want {
			t.Fatalf("priority %q = %v, want %v", tc.cat, got, tc.want)
		}
	}
}

func TestKeywordScoreNeutralWithoutTerms(t *testing.T) {
	pool := []store.Entry{agedEntry(1, "anything")}

	s := NewScorer(pool, nil, scoreNow)
	if got := s.KeywordScore(pool[0]); got != 1.0 {
		t.Fatalf("no terms: keyword score=%v, want 1.0", got)
	}

	// A query of nothing but stopwords behaves the same.
	s = NewScorer(pool, []string{"the", "and", "of"}, scoreNow)
	if got := s.KeywordScore(pool[0]); got != 1.0 {
		t.Fatalf("stopword-only query: keyword score=%v, want 1.0", got)
	}
}

func TestKeywordScoreZeroWithoutMatch(t *testing.T) {
	pool := []store.Entry{agedEntry(1, "nothing relevant here")}
	s := NewScorer(pool, []string{"database"}, scoreNow)
	if got := s.KeywordScore(pool[0]); got != 0 {
		t.Fatalf("unmatched term: keyword score=%v, want 0", got)
	}
	if got := s.Score(pool[0]); got != 0 {
		t.Fatalf("unmatched term: total score=%v, want 0", got)
	}
}

func TestKeywordScoreWordBoundaries(t *testing.T) {
	pool := []store.Entry{
		agedEntry(1, "the cat sat"),
		agedEntry(1, "concatenate strings"),
	}
	s := NewScorer(pool, []string{"cat"}, scoreNow)
	if got := s.KeywordScore(pool[0]); got != 1.0 {
		t.Fatalf("whole word: keyword score=%v, want 1.0", got)
	}
	if got := s.KeywordScore(pool[1]); got != 0 {
		t.Fatalf("substring inside word should not match, got %v", got)
	}
}

func TestRarerTermsWeighMore(t *testing.T) {
	// "cache" appears in most of the pool, "fallback" in one entry.
	pool := []store.Entry{
		agedEntry(1, "cache sizing"),
		agedEntry(1, "cache eviction"),
		agedEntry(1, "cache warmup"),
		agedEntry(1, "fallback path"),
	}
	s := NewScorer(pool, []string{"cache", "fallback"}, scoreNow)

	common := s.KeywordScore(pool[0])
	rare := s.KeywordScore(pool[3])
	if rare <= common {
		t.Fatalf("rare term should outweigh common term: rare=%v common=%v", rare, common)
	}

	both := agedEntry(1, "cache fallback interplay")
	if got := s.KeywordScore(both); got != 1.0 {
		t.Fatalf("all terms matched should normalize to 1.0, got %v", got)
	}
}

func TestScoreCombinesFactors(t *testing.T) {
	e := store.Entry{
		Category:  store.CategoryBrief,
		Timestamp: scoreNow.Add(-40 * 24 * time.Hour).Format(time.RFC3339),
		Content:   "deploy checklist",
	}
	s := NewScorer([]store.Entry{e}, []string{"deploy"}, scoreNow)

	// keyword 1.0 x recency 0.3 x priority 1.5
	want := 1.0 * 0.3 * 1.5
	if got := s.Score(e); got != want {
		t.Fatalf("score=%v, want %v", got, want)
	}
}
