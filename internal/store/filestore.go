package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// flatFileBackend is the last-resort engine: one JSONL file holding typed
// records for entries, metrics and the schema version. Every query is a
// linear scan over in-memory state; all access is serialized.
type flatFileBackend struct {
	path string
	f    *os.File

	entries      []Entry
	tokenMetrics []TokenMetric
	queryMetrics []QueryMetric
	nextID       int64
	version      int
}

type flatRecord struct {
	Type string `json:"type"`

	Version   int    `json:"version,omitempty"`
	AppliedAt string `json:"applied_at,omitempty"`

	Entry       *Entry       `json:"entry,omitempty"`
	TokenMetric *TokenMetric `json:"token_metric,omitempty"`
	QueryMetric *QueryMetric `json:"query_metric,omitempty"`
}

func openFlatFile(path string) (*flatFileBackend, error) {
	b := &flatFileBackend{path: path, nextID: 1, version: currentSchemaVersion}

	if err := b.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open flat store: %w", err)
	}
	b.f = f

	if b.version == 0 {
		b.version = currentSchemaVersion
		if err := b.writeRecord(flatRecord{Type: "schema", Version: b.version, AppliedAt: nowUTC()}); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *flatFileBackend) load() error {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			b.version = 0
			return nil
		}
		return fmt.Errorf("read flat store: %w", err)
	}
	defer f.Close()

	b.version = 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxContentLen+64*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec flatRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("flat store line %d: malformed record: %w", line, err)
		}
		switch rec.Type {
		case "schema":
			b.version = rec.Version
		case "entry":
			if rec.Entry != nil {
				b.entries = append(b.entries, *rec.Entry)
				if rec.Entry.ID >= b.nextID {
					b.nextID = rec.Entry.ID + 1
				}
			}
		case "token_metric":
			if rec.TokenMetric != nil {
				b.tokenMetrics = append(b.tokenMetrics, *rec.TokenMetric)
			}
		case "query_metric":
			if rec.QueryMetric != nil {
				b.queryMetrics = append(b.queryMetrics, *rec.QueryMetric)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan flat store: %w", err)
	}
	return nil
}

func (b *flatFileBackend) writeRecord(rec flatRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := b.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return b.f.Sync()
}

func (b *flatFileBackend) info() BackendInfo {
	return BackendInfo{Kind: BackendFlatFile, Driver: "jsonl", Version: fmt.Sprintf("schema-v%d", b.version), Path: b.path}
}

// Reads share in-memory slices with writes; everything funnels through the
// serializer on this engine.
func (b *flatFileBackend) concurrentReadSafe() bool { return false }

func (b *flatFileBackend) close() error {
	if b.f == nil {
		return nil
	}
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("flush flat store: %w", err)
	}
	return b.f.Close()
}

func (b *flatFileBackend) append(e Entry) (int64, error) {
	e.ID = b.nextID
	e.CreatedAt = nowUTC()
	if err := b.writeRecord(flatRecord{Type: "entry", Entry: &e}); err != nil {
		return 0, err
	}
	b.nextID++
	b.entries = append(b.entries, e)
	return e.ID, nil
}

func (b *flatFileBackend) queryByCategory(cat Category, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	matched := make([]Entry, 0)
	for _, e := range b.entries {
		if e.Category == cat {
			matched = append(matched, e)
		}
	}
	sortNewestFirst(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (b *flatFileBackend) queryByDateRange(cat Category, start, end time.Time) ([]Entry, error) {
	lo := start.UTC().Format(time.RFC3339)
	hi := end.UTC().Format(time.RFC3339)
	matched := make([]Entry, 0)
	for _, e := range b.entries {
		if e.Category == cat && e.Timestamp >= lo && e.Timestamp <= hi {
			matched = append(matched, e)
		}
	}
	sortNewestFirst(matched)
	return matched, nil
}

func (b *flatFileBackend) search(term string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(term)
	matched := make([]Entry, 0)
	for _, e := range b.entries {
		if strings.Contains(strings.ToLower(e.Content), needle) {
			matched = append(matched, e)
		}
	}
	sortNewestFirst(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (b *flatFileBackend) recent(cat Category, count int) ([]Entry, error) {
	return b.queryByCategory(cat, count)
}

func (b *flatFileBackend) stats() (Stats, error) {
	st := Stats{ByCategory: make(map[Category]int), SchemaVersion: b.version}
	for _, e := range b.entries {
		st.TotalEntries++
		st.ByCategory[e.Category]++
		st.TotalChars += int64(len(e.Content))
		if st.OldestEntry == "" || e.Timestamp < st.OldestEntry {
			st.OldestEntry = e.Timestamp
		}
		if e.Timestamp > st.NewestEntry {
			st.NewestEntry = e.Timestamp
		}
	}
	return st, nil
}

func (b *flatFileBackend) writeTokenMetric(m TokenMetric) error {
	if err := b.writeRecord(flatRecord{Type: "token_metric", TokenMetric: &m}); err != nil {
		return err
	}
	b.tokenMetrics = append(b.tokenMetrics, m)
	return nil
}

func (b *flatFileBackend) writeQueryMetric(m QueryMetric) error {
	if err := b.writeRecord(flatRecord{Type: "query_metric", QueryMetric: &m}); err != nil {
		return err
	}
	b.queryMetrics = append(b.queryMetrics, m)
	return nil
}

func (b *flatFileBackend) tokenMetricsSince(since time.Time) ([]TokenMetric, error) {
	cutoff := since.UTC().Format(time.RFC3339)
	out := make([]TokenMetric, 0)
	for _, m := range b.tokenMetrics {
		if m.Timestamp >= cutoff {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *flatFileBackend) queryMetricsSince(since time.Time) ([]QueryMetric, error) {
	cutoff := since.UTC().Format(time.RFC3339)
	out := make([]QueryMetric, 0)
	for _, m := range b.queryMetrics {
		if m.Timestamp >= cutoff {
			out = append(out, m)
		}
	}
	return out, nil
}

// pruneMetricsBefore rewrites the whole file; acceptable on the degraded
// path where files stay small.
func (b *flatFileBackend) pruneMetricsBefore(cutoff time.Time) error {
	ts := cutoff.UTC().Format(time.RFC3339)

	keptTokens := make([]TokenMetric, 0, len(b.tokenMetrics))
	for _, m := range b.tokenMetrics {
		if m.Timestamp >= ts {
			keptTokens = append(keptTokens, m)
		}
	}
	keptQueries := make([]QueryMetric, 0, len(b.queryMetrics))
	for _, m := range b.queryMetrics {
		if m.Timestamp >= ts {
			keptQueries = append(keptQueries, m)
		}
	}
	if len(keptTokens) == len(b.tokenMetrics) && len(keptQueries) == len(b.queryMetrics) {
		return nil
	}

	tmp := b.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("rewrite flat store: %w", err)
	}
	w := bufio.NewWriter(f)
	writeLine := func(rec flatRecord) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}

	err = writeLine(flatRecord{Type: "schema", Version: b.version, AppliedAt: nowUTC()})
	for i := range b.entries {
		if err != nil {
			break
		}
		err = writeLine(flatRecord{Type: "entry", Entry: &b.entries[i]})
	}
	for i := range keptTokens {
		if err != nil {
			break
		}
		err = writeLine(flatRecord{Type: "token_metric", TokenMetric: &keptTokens[i]})
	}
	for i := range keptQueries {
		if err != nil {
			break
		}
		err = writeLine(flatRecord{Type: "query_metric", QueryMetric: &keptQueries[i]})
	}
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rewrite flat store: %w", err)
	}

	if err := b.f.Close(); err != nil {
		return fmt.Errorf("close flat store for rewrite: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("swap flat store: %w", err)
	}
	nf, err := os.OpenFile(b.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen flat store: %w", err)
	}
	b.f = nf
	b.tokenMetrics = keptTokens
	b.queryMetrics = keptQueries
	return nil
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].ID > entries[j].ID
	})
}
