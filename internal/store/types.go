package store

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Category classifies an entry. The set is fixed; it drives indexing and
// the selector's priority weighting.
type Category string

const (
	CategoryBrief    Category = "brief"
	CategoryContext  Category = "context"
	CategoryPattern  Category = "pattern"
	CategoryDecision Category = "decision"
	CategoryProgress Category = "progress"
)

// Categories lists every valid category in priority order.
var Categories = []Category{
	CategoryBrief,
	CategoryContext,
	CategoryPattern,
	CategoryDecision,
	CategoryProgress,
}

func (c Category) Valid() bool {
	switch c {
	case CategoryBrief, CategoryContext, CategoryPattern, CategoryDecision, CategoryProgress:
		return true
	}
	return false
}

// ParseCategory accepts any case of a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// MaxContentLen bounds a single entry's content, counted in runes so
// multi-byte text gets the same headroom as ASCII.
const MaxContentLen = 1_000_000

var tagPattern = regexp.MustCompile(`^\[[A-Z]+:\d{4}-\d{2}-\d{2}\]$`)

// Entry is one immutable knowledge record. Once persisted it is never
// updated or deleted; corrections are new entries referencing the old id.
type Entry struct {
	ID        int64    `json:"id"`
	Category  Category `json:"category"`
	Timestamp string   `json:"timestamp"` // ISO-8601 UTC
	Tag       string   `json:"tag,omitempty"`
	Content   string   `json:"content"`
	CreatedAt string   `json:"created_at"`
}

// Time parses the entry timestamp. ok is false for missing or malformed
// timestamps; callers decide how to weight those.
func (e Entry) Time() (time.Time, bool) {
	if strings.TrimSpace(e.Timestamp) == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (e Entry) validate() error {
	if !e.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", e.Category)}
	}
	if strings.TrimSpace(e.Content) == "" {
		return &ValidationError{Field: "content", Reason: "content is empty"}
	}
	if utf8.RuneCountInString(e.Content) > MaxContentLen {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("content exceeds %d chars", MaxContentLen)}
	}
	if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
		return &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("not ISO-8601: %q", e.Timestamp)}
	}
	if e.Tag != "" && !tagPattern.MatchString(e.Tag) {
		return &ValidationError{Field: "tag", Reason: fmt.Sprintf("tag %q does not match [CATEGORY:YYYY-MM-DD]", e.Tag)}
	}
	return nil
}

// ContextStatus grades budget utilisation on a token metric row.
type ContextStatus string

const (
	ContextHealthy  ContextStatus = "healthy"
	ContextWarning  ContextStatus = "warning"
	ContextCritical ContextStatus = "critical"
)

// TokenMetric is one append-only, loss-tolerant token usage row.
type TokenMetric struct {
	Timestamp     string        `json:"timestamp"`
	Model         string        `json:"model"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	TotalTokens   int           `json:"total_tokens"`
	Operation     string        `json:"operation"`
	ContextStatus ContextStatus `json:"context_status"`
}

// QueryMetric is one append-only operation timing row.
type QueryMetric struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Stats is a compact per-category snapshot used by status reporting.
type Stats struct {
	TotalEntries  int
	ByCategory    map[Category]int
	TotalChars    int64
	OldestEntry   string
	NewestEntry   string
	SchemaVersion int
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
