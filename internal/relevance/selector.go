package relevance

import (
	"math"
	"sort"
	"time"

	"github.com/stellarlinkco/memvault/internal/store"
	"github.com/stellarlinkco/memvault/internal/token"
)

// inexactMargin pads heuristic token counts so an estimate never busts
// the budget.
const inexactMargin = 1.2

// TokenCounter is the counting dependency; satisfied by *token.Counter.
type TokenCounter interface {
	Count(text, modelID string) token.Result
}

// Selection is the outcome of one budget-bounded packing pass.
type Selection struct {
	Selected        []store.Entry
	ConsideredCount int
	SelectedCount   int
	TotalTokens     int
	CoverageRatio   float64
}

// SelectForBudget greedily packs the highest-scoring entries under
// tokenBudget. Candidates are taken in score order (ties: newer
// timestamp, then lower id) and accumulation stops at the first entry
// that would push the total past the budget; entries are never split.
// This is an explicit greedy approximation, not an optimal knapsack.
// The selected entries come back in chronological order for stable
// downstream formatting.
func SelectForBudget(pool []store.Entry, queryTerms []string, tokenBudget int, modelID string, counter TokenCounter, now time.Time) Selection {
	sel := Selection{ConsideredCount: len(pool)}
	if len(pool) == 0 || tokenBudget <= 0 {
		sel.Selected = []store.Entry{}
		return sel
	}

	scorer := NewScorer(pool, queryTerms, now)

	type candidate struct {
		entry store.Entry
		score float64
		ts    time.Time
	}
	candidates := make([]candidate, 0, len(pool))
	for _, e := range pool {
		ts, ok := e.Time()
		if !ok {
			ts = time.Time{}
		}
		candidates = append(candidates, candidate{entry: e, score: scorer.Score(e), ts: ts})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if !candidates[i].ts.Equal(candidates[j].ts) {
			return candidates[i].ts.After(candidates[j].ts)
		}
		return candidates[i].entry.ID < candidates[j].entry.ID
	})

	selected := make([]store.Entry, 0, len(candidates))
	total := 0
	for _, c := range candidates {
		cost := entryCost(c.entry, modelID, counter)
		if total+cost > tokenBudget {
			break
		}
		total += cost
		selected = append(selected, c.entry)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Timestamp != selected[j].Timestamp {
			return selected[i].Timestamp < selected[j].Timestamp
		}
		return selected[i].ID < selected[j].ID
	})

	sel.Selected = selected
	sel.SelectedCount = len(selected)
	sel.TotalTokens = total
	sel.CoverageRatio = float64(len(selected)) / float64(len(pool))
	return sel
}

func entryCost(e store.Entry, modelID string, counter TokenCounter) int {
	res := counter.Count(e.Content, modelID)
	cost := res.Count
	if !res.Exact {
		cost = int(math.Ceil(float64(cost) * inexactMargin))
	}
	if cost < 1 {
		cost = 1
	}
	return cost
}
