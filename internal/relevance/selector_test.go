package relevance

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/stellarlinkco/memvault/internal/store"
	"github.com/stellarlinkco/memvault/internal/token"
)

// charCounter charges one token per character, exactly.
type charCounter struct{}

func (charCounter) Count(text, modelID string) token.Result {
	return token.Result{Count: len(text), Exact: true}
}

// fuzzyCounter charges one token per character but reports it inexact.
type fuzzyCounter struct{}

func (fuzzyCounter) Count(text, modelID string) token.Result {
	return token.Result{Count: len(text), Exact: false}
}

var selNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func poolEntry(id int64, days int, cat store.Category, content string) store.Entry {
	return store.Entry{
		ID:        id,
		Category:  cat,
		Timestamp: selNow.Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339),
		Content:   content,
	}
}

func TestBudgetNeverExceeded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		pool := make([]store.Entry, rng.Intn(40))
		for i := range pool {
			pool[i] = poolEntry(int64(i+1), rng.Intn(200),
				store.Categories[rng.Intn(len(store.Categories))],
				fmt.Sprintf("entry %d %s", i, string(make([]byte, rng.Intn(60)))))
		}
		budget := rng.Intn(300)

		sel := SelectForBudget(pool, []string{"entry"}, budget, "m", charCounter{}, selNow)
		if sel.TotalTokens > budget {
			t.Fatalf("trial %d: total %d exceeds budget %d", trial, sel.TotalTokens, budget)
		}
		if sel.SelectedCount != len(sel.Selected) {
			t.Fatalf("trial %d: count mismatch", trial)
		}
	}
}

func TestZeroBudgetSelectsNothing(t *testing.T) {
	pool := []store.Entry{poolEntry(1, 0, store.CategoryBrief, "anything")}
	sel := SelectForBudget(pool, nil, 0, "m", charCounter{}, selNow)
	if sel.SelectedCount != 0 || sel.TotalTokens != 0 {
		t.Fatalf("zero budget selected %d entries", sel.SelectedCount)
	}
	if sel.ConsideredCount != 1 {
		t.Fatalf("considered=%d, want 1", sel.ConsideredCount)
	}
}

func TestEmptyPool(t *testing.T) {
	sel := SelectForBudget(nil, []string{"x"}, 100, "m", charCounter{}, selNow)
	if sel.ConsideredCount != 0 || sel.SelectedCount != 0 || len(sel.Selected) != 0 {
		t.Fatalf("unexpected selection from empty pool: %+v", sel)
	}
}

func TestGreedyDeterminism(t *testing.T) {
	pool := make([]store.Entry, 0, 20)
	for i := 0; i < 20; i++ {
		pool = append(pool, poolEntry(int64(i+1), i*5,
			store.Categories[i%len(store.Categories)],
			fmt.Sprintf("memory note %d about deployment", i)))
	}

	first := SelectForBudget(pool, []string{"deployment"}, 120, "m", charCounter{}, selNow)
	second := SelectForBudget(pool, []string{"deployment"}, 120, "m", charCounter{}, selNow)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different selections:\n%+v\n%+v", first, second)
	}
}

func TestRecencyBreaksKeywordTies(t *testing.T) {
	// Identical content, so keyword scores tie and recency decides.
	today := poolEntry(1, 0, store.CategoryContext, "alpha")
	monthOld := poolEntry(2, 31, store.CategoryContext, "alpha")
	ancient := poolEntry(3, 95, store.CategoryContext, "alpha")
	pool := []store.Entry{ancient, today, monthOld}

	// Budget fits exactly two 5-char entries.
	sel := SelectForBudget(pool, []string{"alpha"}, 10, "m", charCounter{}, selNow)
	if sel.SelectedCount != 2 {
		t.Fatalf("expected 2 selected, got %d", sel.SelectedCount)
	}
	ids := []int64{sel.Selected[0].ID, sel.Selected[1].ID}
	// Chronological output: the 31-day entry precedes today's.
	if ids[0] != 2 || ids[1] != 1 {
		t.Fatalf("expected {31-day, today} selection in chronological order, got ids %v", ids)
	}
	if sel.TotalTokens != 10 {
		t.Fatalf("total tokens=%d, want 10", sel.TotalTokens)
	}
}

func TestStopsAtFirstOverflowingCandidate(t *testing.T) {
	// Score order is by recency: e1, e2, big, small.
	e1 := poolEntry(1, 0, store.CategoryProgress, "aaaaaaaaaa")                                 // 10 tokens
	e2 := poolEntry(2, 1, store.CategoryProgress, "bbbbbbbbbb")                                 // 10 tokens
	big := poolEntry(3, 2, store.CategoryProgress, "cccccccccccccccccccccccccccccccccccccccc") // 40 tokens
	small := poolEntry(4, 3, store.CategoryProgress, "dd")                                      // would fit

	sel := SelectForBudget([]store.Entry{e1, e2, big, small}, nil, 25, "m", charCounter{}, selNow)
	if sel.SelectedCount != 2 {
		t.Fatalf("expected greedy stop at first overflow, selected %d", sel.SelectedCount)
	}
	for _, e := range sel.Selected {
		if e.ID == 4 {
			t.Fatal("entries after the first overflow must be skipped, not backfilled")
		}
	}
}

func TestSelectedEntriesAreChronological(t *testing.T) {
	pool := []store.Entry{
		poolEntry(1, 2, store.CategoryBrief, "bb"),
		poolEntry(2, 50, store.CategoryBrief, "aa"),
		poolEntry(3, 10, store.CategoryBrief, "cc"),
	}
	sel := SelectForBudget(pool, nil, 100, "m", charCounter{}, selNow)
	if sel.SelectedCount != 3 {
		t.Fatalf("expected all selected, got %d", sel.SelectedCount)
	}
	for i := 1; i < len(sel.Selected); i++ {
		if sel.Selected[i-1].Timestamp > sel.Selected[i].Timestamp {
			t.Fatalf("output not chronological: %s after %s",
				sel.Selected[i-1].Timestamp, sel.Selected[i].Timestamp)
		}
	}
}

func TestInexactCountsGetSafetyMargin(t *testing.T) {
	e := poolEntry(1, 0, store.CategoryBrief, "0123456789") // 10 chars

	// Exact count fits a budget of 10; an inexact one is padded to 12.
	exact := SelectForBudget([]store.Entry{e}, nil, 10, "m", charCounter{}, selNow)
	if exact.SelectedCount != 1 {
		t.Fatalf("exact count should fit, selected %d", exact.SelectedCount)
	}
	padded := SelectForBudget([]store.Entry{e}, nil, 10, "m", fuzzyCounter{}, selNow)
	if padded.SelectedCount != 0 {
		t.Fatalf("inexact count should be padded past the budget, selected %d", padded.SelectedCount)
	}
	fits := SelectForBudget([]store.Entry{e}, nil, 12, "m", fuzzyCounter{}, selNow)
	if fits.SelectedCount != 1 || fits.TotalTokens != 12 {
		t.Fatalf("expected padded cost 12 to fit budget 12, got %+v", fits)
	}
}

func TestCoverageRatio(t *testing.T) {
	pool := []store.Entry{
		poolEntry(1, 0, store.CategoryBrief, "aaaa"),
		poolEntry(2, 1, store.CategoryBrief, "bbbb"),
		poolEntry(3, 2, store.CategoryBrief, "cccc"),
		poolEntry(4, 3, store.CategoryBrief, "dddd"),
	}
	sel := SelectForBudget(pool, nil, 8, "m", charCounter{}, selNow)
	if sel.SelectedCount != 2 {
		t.Fatalf("expected 2 selected, got %d", sel.SelectedCount)
	}
	if sel.CoverageRatio != 0.5 {
		t.Fatalf("coverage=%v, want 0.5", sel.CoverageRatio)
	}
}

func TestInteractiveScaleLatency(t *testing.T) {
	pool := make([]store.Entry, 500)
	for i := range pool {
		pool[i] = poolEntry(int64(i+1), i%180,
			store.Categories[i%len(store.Categories)],
			fmt.Sprintf("candidate %d discussing migration, budgets and caching strategy", i))
	}

	start := time.Now()
	sel := SelectForBudget(pool, []string{"migration", "caching", "budgets"}, 2000, "m", charCounter{}, selNow)
	elapsed := time.Since(start)

	if sel.ConsideredCount != 500 {
		t.Fatalf("considered=%d, want 500", sel.ConsideredCount)
	}
	// Generous ceiling; the interactive path needs far less.
	if elapsed > 2*time.Second {
		t.Fatalf("scoring 500 candidates took %v", elapsed)
	}
}
