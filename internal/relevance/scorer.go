// Package relevance ranks stored entries against a query and packs the
// best of them under a token budget for context injection.
package relevance

import (
	"regexp"
	"strings"
	"time"

	"github.com/stellarlinkco/memvault/internal/store"
)

// priorityWeights are fixed per category.
var priorityWeights = map[store.Category]float64{
	store.CategoryBrief:    1.5,
	store.CategoryPattern:  1.4,
	store.CategoryContext:  1.3,
	store.CategoryDecision: 1.2,
	store.CategoryProgress: 1.0,
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {},
}

type queryTerm struct {
	term    string
	weight  float64
	pattern *regexp.Regexp
}

// Scorer scores entries as keyword x recency x priority. Term weights are
// frequency-based over the candidate pool: rarer terms weigh more.
type Scorer struct {
	terms       []queryTerm
	totalWeight float64
	now         time.Time
}

// NewScorer prepares a scorer for one query over one candidate pool.
func NewScorer(pool []store.Entry, queryTerms []string, now time.Time) *Scorer {
	s := &Scorer{now: now}

	seen := make(map[string]struct{})
	patterns := make([]queryTerm, 0, len(queryTerms))
	for _, raw := range queryTerms {
		term := strings.ToLower(strings.TrimSpace(raw))
		if term == "" {
			continue
		}
		if _, stop := stopwords[term]; stop {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		patterns = append(patterns, queryTerm{
			term:    term,
			pattern: wordPattern(term),
		})
	}

	// Inverse document frequency over the pool; a term matched nowhere
	// still gets the maximum weight.
	for i := range patterns {
		df := 0
		for _, e := range pool {
			if patterns[i].pattern.MatchString(e.Content) {
				df++
			}
		}
		patterns[i].weight = 1.0 / float64(1+df)
		s.totalWeight += patterns[i].weight
	}
	s.terms = patterns
	return s
}

// Score computes the relevance of one entry. With no usable query terms
// the keyword factor is neutral and recency/priority rank alone.
func (s *Scorer) Score(e store.Entry) float64 {
	return s.KeywordScore(e) * RecencyWeight(e, s.now) * PriorityWeight(e.Category)
}

// KeywordScore is the term-frequency-weighted match fraction in [0, 1].
// Zero matching terms yields 0; the entry stays in the pool regardless.
func (s *Scorer) KeywordScore(e store.Entry) float64 {
	if len(s.terms) == 0 {
		return 1.0
	}
	matched := 0.0
	for _, t := range s.terms {
		if t.pattern.MatchString(e.Content) {
			matched += t.weight
		}
	}
	if matched == 0 {
		return 0
	}
	return matched / s.totalWeight
}

// RecencyWeight is a step function of entry age. Under 7 days scores
// 1.0; 7 through 30 days inclusive scores 0.7; over 30 through 90 days
// inclusive scores 0.3; older scores 0.1. Missing or malformed
// timestamps land in the oldest tier; future timestamps clamp to the
// newest.
func RecencyWeight(e store.Entry, now time.Time) float64 {
	ts, ok := e.Time()
	if !ok {
		return 0.1
	}
	if ts.After(now) {
		return 1.0
	}
	days := now.Sub(ts).Hours() / 24
	switch {
	case days < 7:
		return 1.0
	case days <= 30:
		return 0.7
	case days <= 90:
		return 0.3
	default:
		return 0.1
	}
}

// PriorityWeight is the fixed per-category factor.
func PriorityWeight(c store.Category) float64 {
	if w, ok := priorityWeights[c]; ok {
		return w
	}
	return 1.0
}

func wordPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}
