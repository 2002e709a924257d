package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestFlatFile(t *testing.T, path string) *flatFileBackend {
	t.Helper()
	b, err := openFlatFile(path)
	if err != nil {
		t.Fatalf("openFlatFile error: %v", err)
	}
	t.Cleanup(func() { _ = b.close() })
	return b
}

func TestFlatFileRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memvault.jsonl")
	b := openTestFlatFile(t, path)

	id1, err := b.append(testEntry(CategoryDecision, "keep the flat format simple", 0))
	if err != nil {
		t.Fatalf("append error: %v", err)
	}
	id2, err := b.append(testEntry(CategoryDecision, "second entry", 0))
	if err != nil {
		t.Fatalf("append error: %v", err)
	}
	if id1 != 1 || id2 != 2 {
		t.Fatalf("expected monotonic ids 1,2 got %d,%d", id1, id2)
	}
	if err := b.close(); err != nil {
		t.Fatalf("close error: %v", err)
	}

	reopened := openTestFlatFile(t, path)
	got, err := reopened.queryByCategory(CategoryDecision, 10)
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after reopen, got %d", len(got))
	}

	id3, err := reopened.append(testEntry(CategoryDecision, "third", 0))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if id3 != 3 {
		t.Fatalf("id sequence should continue after reopen, got %d", id3)
	}
}

func TestFlatFileSearchAndRange(t *testing.T) {
	b := openTestFlatFile(t, filepath.Join(t.TempDir(), "memvault.jsonl"))

	if _, err := b.append(testEntry(CategoryContext, "Alpha Release notes", 2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := b.append(testEntry(CategoryContext, "beta follow-up", 20)); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := b.search("ALPHA", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 case-insensitive match, got %d", len(got))
	}

	now := time.Now().UTC()
	ranged, err := b.queryByDateRange(CategoryContext, now.AddDate(0, 0, -7), now)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(ranged) != 1 {
		t.Fatalf("expected 1 entry in range, got %d", len(ranged))
	}
}

func TestFlatFilePruneKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memvault.jsonl")
	b := openTestFlatFile(t, path)

	if _, err := b.append(testEntry(CategoryBrief, "entry stays", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	old := time.Now().UTC().AddDate(0, 0, -90).Format(time.RFC3339)
	if err := b.writeQueryMetric(QueryMetric{Timestamp: old, Operation: "append", ElapsedMs: 1}); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if err := b.writeQueryMetric(QueryMetric{Timestamp: nowUTC(), Operation: "append", ElapsedMs: 1}); err != nil {
		t.Fatalf("write metric: %v", err)
	}

	if err := b.pruneMetricsBefore(time.Now().UTC().AddDate(0, 0, -30)); err != nil {
		t.Fatalf("prune: %v", err)
	}

	metrics, err := b.queryMetricsSince(time.Time{})
	if err != nil {
		t.Fatalf("metrics since: %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("expected 1 metric after prune, got %d", len(metrics))
	}

	// Entries survive the rewrite, and the file still loads.
	if err := b.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened := openTestFlatFile(t, path)
	entries, err := reopened.queryByCategory(CategoryBrief, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "entry stays" {
		t.Fatalf("entries lost in prune rewrite: %+v", entries)
	}
}

func TestFlatFileStats(t *testing.T) {
	b := openTestFlatFile(t, filepath.Join(t.TempDir(), "memvault.jsonl"))

	if _, err := b.append(testEntry(CategoryBrief, "abc", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := b.append(testEntry(CategoryPattern, "defgh", 3)); err != nil {
		t.Fatalf("append: %v", err)
	}

	st, err := b.stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalEntries != 2 || st.ByCategory[CategoryBrief] != 1 || st.TotalChars != 8 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.OldestEntry >= st.NewestEntry {
		t.Fatalf("expected oldest < newest, got %q vs %q", st.OldestEntry, st.NewestEntry)
	}
}
