package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteBackend serves both sqlite engine variants; only the registered
// driver name differs between them.
type sqliteBackend struct {
	db     *sql.DB
	kind   BackendKind
	driver string
	path   string
}

func openSQLite(path string, cand driverCandidate) (*sqliteBackend, error) {
	db, err := sql.Open(cand.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cand.driver, err)
	}

	b := &sqliteBackend{db: db, kind: cand.kind, driver: cand.driver, path: path}
	if err := b.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqliteBackend) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := b.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (b *sqliteBackend) info() BackendInfo {
	var version string
	if err := b.db.QueryRow(`SELECT sqlite_version()`).Scan(&version); err != nil {
		version = "unknown"
	}
	return BackendInfo{Kind: b.kind, Driver: b.driver, Version: version, Path: b.path}
}

func (b *sqliteBackend) concurrentReadSafe() bool {
	// WAL mode allows readers alongside the single serialized writer.
	return true
}

func (b *sqliteBackend) close() error {
	if b.db == nil {
		return nil
	}
	// Fold the WAL back into the main file so the image on disk is
	// complete before the handle goes away.
	_, _ = b.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return b.db.Close()
}

func (b *sqliteBackend) append(e Entry) (int64, error) {
	res, err := b.db.Exec(`
		INSERT INTO entries (category, timestamp, tag, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(e.Category), e.Timestamp, e.Tag, e.Content, nowUTC())
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("entry id: %w", err)
	}
	return id, nil
}

const entryColumns = `id, category, timestamp, tag, content, created_at`

func (b *sqliteBackend) queryByCategory(cat Category, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.db.Query(`
		SELECT `+entryColumns+` FROM entries
		WHERE category = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(cat), limit)
	if err != nil {
		return nil, fmt.Errorf("query by category: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (b *sqliteBackend) queryByDateRange(cat Category, start, end time.Time) ([]Entry, error) {
	// Timestamps are normalized to UTC RFC3339 on insert, so string
	// comparison matches chronological order.
	rows, err := b.db.Query(`
		SELECT `+entryColumns+` FROM entries
		WHERE category = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
	`, string(cat), start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query by date range: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// search is a deliberate full-table substring scan, not an indexed lookup.
func (b *sqliteBackend) search(term string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	term = strings.ToLower(term)
	rows, err := b.db.Query(`
		SELECT `+entryColumns+` FROM entries
		WHERE INSTR(LOWER(content), ?) > 0
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, term, limit)
	if err != nil {
		return nil, fmt.Errorf("full text search: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (b *sqliteBackend) recent(cat Category, count int) ([]Entry, error) {
	return b.queryByCategory(cat, count)
}

func (b *sqliteBackend) stats() (Stats, error) {
	st := Stats{ByCategory: make(map[Category]int)}

	rows, err := b.db.Query(`SELECT category, COUNT(1), COALESCE(SUM(LENGTH(content)), 0) FROM entries GROUP BY category`)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var count int
		var chars int64
		if err := rows.Scan(&cat, &count, &chars); err != nil {
			return st, fmt.Errorf("scan stats: %w", err)
		}
		st.ByCategory[Category(cat)] = count
		st.TotalEntries += count
		st.TotalChars += chars
	}
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("iterate stats: %w", err)
	}

	row := b.db.QueryRow(`SELECT COALESCE(MIN(timestamp), ''), COALESCE(MAX(timestamp), '') FROM entries`)
	if err := row.Scan(&st.OldestEntry, &st.NewestEntry); err != nil {
		return st, fmt.Errorf("stats range: %w", err)
	}
	if err := b.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&st.SchemaVersion); err != nil {
		return st, fmt.Errorf("stats schema version: %w", err)
	}
	return st, nil
}

func (b *sqliteBackend) writeTokenMetric(m TokenMetric) error {
	_, err := b.db.Exec(`
		INSERT INTO token_metrics (timestamp, model, input_tokens, output_tokens, total_tokens, operation, context_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.Timestamp, m.Model, m.InputTokens, m.OutputTokens, m.TotalTokens, m.Operation, string(m.ContextStatus))
	if err != nil {
		return fmt.Errorf("insert token metric: %w", err)
	}
	return nil
}

func (b *sqliteBackend) writeQueryMetric(m QueryMetric) error {
	_, err := b.db.Exec(`
		INSERT INTO query_metrics (timestamp, operation, elapsed_ms)
		VALUES (?, ?, ?)
	`, m.Timestamp, m.Operation, m.ElapsedMs)
	if err != nil {
		return fmt.Errorf("insert query metric: %w", err)
	}
	return nil
}

func (b *sqliteBackend) tokenMetricsSince(since time.Time) ([]TokenMetric, error) {
	rows, err := b.db.Query(`
		SELECT timestamp, model, input_tokens, output_tokens, total_tokens, operation, context_status
		FROM token_metrics WHERE timestamp >= ? ORDER BY timestamp ASC
	`, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query token metrics: %w", err)
	}
	defer rows.Close()

	result := make([]TokenMetric, 0)
	for rows.Next() {
		var m TokenMetric
		var status string
		if err := rows.Scan(&m.Timestamp, &m.Model, &m.InputTokens, &m.OutputTokens, &m.TotalTokens, &m.Operation, &status); err != nil {
			return nil, fmt.Errorf("scan token metric: %w", err)
		}
		m.ContextStatus = ContextStatus(status)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token metrics: %w", err)
	}
	return result, nil
}

func (b *sqliteBackend) queryMetricsSince(since time.Time) ([]QueryMetric, error) {
	rows, err := b.db.Query(`
		SELECT timestamp, operation, elapsed_ms
		FROM query_metrics WHERE timestamp >= ? ORDER BY timestamp ASC
	`, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	result := make([]QueryMetric, 0)
	for rows.Next() {
		var m QueryMetric
		if err := rows.Scan(&m.Timestamp, &m.Operation, &m.ElapsedMs); err != nil {
			return nil, fmt.Errorf("scan query metric: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query metrics: %w", err)
	}
	return result, nil
}

func (b *sqliteBackend) pruneMetricsBefore(cutoff time.Time) error {
	ts := cutoff.UTC().Format(time.RFC3339)
	if _, err := b.db.Exec(`DELETE FROM token_metrics WHERE timestamp < ?`, ts); err != nil {
		return fmt.Errorf("prune token metrics: %w", err)
	}
	if _, err := b.db.Exec(`DELETE FROM query_metrics WHERE timestamp < ?`, ts); err != nil {
		return fmt.Errorf("prune query metrics: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	result := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var cat string
		if err := rows.Scan(&e.ID, &cat, &e.Timestamp, &e.Tag, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Category = Category(cat)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return result, nil
}
