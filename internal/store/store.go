// Package store persists append-only knowledge entries over a relational
// backend with a flat-file fallback, serializing all writes and recovering
// from detected corruption via migration backups.
package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const serializerDepth = 256

// Store is the single owner of the data file. Create it once at startup
// with Open and pass the handle to collaborators; Close releases it.
type Store struct {
	mu            sync.Mutex
	path          string
	backend       backend
	ser           *serializer
	closed        bool
	recoveryTried bool
}

// Open initializes a store against path, creating parent directories and
// the data file as needed. The engine is picked from an ordered candidate
// chain; every failed attempt is logged before falling through.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{path: path}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// initLocked walks the engine resolution chain. Migration failures are
// fatal and never fall through to the next engine; load failures do.
func (s *Store) initLocked() error {
	var lastErr error
	for _, cand := range driverCandidates() {
		b, err := openSQLite(s.path, cand)
		if err != nil {
			log.Printf("[store] engine %s (%s) unavailable: %v", cand.kind, cand.driver, err)
			lastErr = err
			continue
		}
		backupPath, err := ensureSchema(b.db, s.path)
		if err != nil {
			_ = b.close()
			var merr *MigrationError
			if errors.As(err, &merr) {
				if backupPath != "" {
					if rerr := restoreBackup(s.path, backupPath); rerr != nil {
						log.Printf("[store] backup restore failed: %v", rerr)
					} else {
						merr.Restored = true
					}
				}
				return merr
			}
			log.Printf("[store] engine %s schema init failed: %v", cand.kind, err)
			lastErr = err
			continue
		}
		s.backend = b
		s.ser = newSerializer(serializerDepth)
		s.closed = false
		log.Printf("[store] backend ready: %s (%s) at %s", cand.kind, cand.driver, s.path)
		return nil
	}

	log.Printf("[store] no relational engine loaded, degrading to flat-file store")
	fb, err := openFlatFile(s.path)
	if err != nil {
		if lastErr != nil {
			return fmt.Errorf("flat-file fallback failed: %w (relational engine error: %v)", err, lastErr)
		}
		return fmt.Errorf("flat-file fallback failed: %w", err)
	}
	s.backend = fb
	s.ser = newSerializer(serializerDepth)
	s.closed = false
	return nil
}

// ensureLive guards against the backing file being deleted out from under
// a live handle: when it is gone, all internal state is reset and the
// store reinitializes fresh.
func (s *Store) ensureLive() error {
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if s.backend != nil {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		}
		log.Printf("[store] backing file %s vanished, reinitializing", s.path)
		s.ser.close()
		_ = s.backend.close()
		s.backend = nil
		s.recoveryTried = false
	}
	return s.initLocked()
}

func (s *Store) withBackend(write bool, op func(b backend) error) error {
	s.mu.Lock()
	if err := s.ensureLive(); err != nil {
		s.mu.Unlock()
		return err
	}
	b, ser := s.backend, s.ser
	readSafe := b.concurrentReadSafe()
	s.mu.Unlock()

	if write || !readSafe {
		return ser.do(func() error { return op(b) })
	}
	return op(b)
}

// run executes op with one automatic corruption-recovery retry. Unresolved
// corruption and every other storage failure surface as *StorageError.
func (s *Store) run(opName string, write bool, op func(b backend) error) error {
	err := s.withBackend(write, op)
	if err == nil {
		return nil
	}
	if s.recoverFrom(err) {
		if err2 := s.withBackend(write, op); err2 == nil {
			return nil
		} else {
			err = err2
		}
	}
	return &StorageError{Op: opName, Err: err}
}

// recoverFrom restores the latest backup when err matches a corruption
// signature. At most one automatic attempt per corruption event; repeated
// failure stays fatal for the caller.
func (s *Store) recoverFrom(err error) bool {
	report := DetectCorruption(err)
	if !report.Corrupted || !report.Recoverable {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recoveryTried {
		return false
	}
	s.recoveryTried = true
	log.Printf("[store] corruption detected (%s), attempting recovery", report.Reason)

	if s.backend != nil {
		s.ser.close()
		_ = s.backend.close()
		s.backend = nil
	}
	if rerr := AttemptRecovery(s.path, latestBackup(s.path)); rerr != nil {
		log.Printf("[store] recovery failed: %v", rerr)
		return false
	}
	if rerr := s.initLocked(); rerr != nil {
		log.Printf("[store] reinit after recovery failed: %v", rerr)
		return false
	}
	return true
}

// Append validates e, assigns a monotonic id and persists it. Entries are
// immutable after this point; corrections are new entries.
func (s *Store) Append(e Entry) (int64, error) {
	if err := e.validate(); err != nil {
		return 0, err
	}
	ts, _ := e.Time()
	e.Timestamp = ts.UTC().Format(time.RFC3339)

	var id int64
	err := s.run("append", true, func(b backend) error {
		var err error
		id, err = b.append(e)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// QueryByCategory returns up to limit entries of one category, newest
// first.
func (s *Store) QueryByCategory(cat Category, limit int) ([]Entry, error) {
	if !cat.Valid() {
		return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", cat)}
	}
	var out []Entry
	err := s.run("query_by_category", false, func(b backend) error {
		var err error
		out, err = b.queryByCategory(cat, limit)
		return err
	})
	return out, err
}

// QueryByDateRange returns entries of one category with timestamps in
// [start, end], newest first.
func (s *Store) QueryByDateRange(cat Category, start, end time.Time) ([]Entry, error) {
	if !cat.Valid() {
		return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", cat)}
	}
	var out []Entry
	err := s.run("query_by_date_range", false, func(b backend) error {
		var err error
		out, err = b.queryByDateRange(cat, start, end)
		return err
	})
	return out, err
}

// Search is a case-insensitive substring scan over entry content. It is
// not indexed; cost grows linearly with the table.
func (s *Store) Search(term string, limit int) ([]Entry, error) {
	var out []Entry
	err := s.run("full_text_search", false, func(b backend) error {
		var err error
		out, err = b.search(term, limit)
		return err
	})
	return out, err
}

// Recent returns the newest count entries of a category.
func (s *Store) Recent(cat Category, count int) ([]Entry, error) {
	if !cat.Valid() {
		return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", cat)}
	}
	var out []Entry
	err := s.run("get_recent", false, func(b backend) error {
		var err error
		out, err = b.recent(cat, count)
		return err
	})
	return out, err
}

// BackendInfo reports the active engine.
func (s *Store) BackendInfo() (BackendInfo, error) {
	var info BackendInfo
	err := s.run("backend_info", false, func(b backend) error {
		info = b.info()
		return nil
	})
	return info, err
}

// Stats summarizes the stored entries for status reporting.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.run("stats", false, func(b backend) error {
		var err error
		st, err = b.stats()
		return err
	})
	return st, err
}

// RecordTokenMetric persists one token usage row.
func (s *Store) RecordTokenMetric(m TokenMetric) error {
	return s.run("record_token_metric", true, func(b backend) error {
		return b.writeTokenMetric(m)
	})
}

// RecordQueryMetric persists one operation timing row.
func (s *Store) RecordQueryMetric(m QueryMetric) error {
	return s.run("record_query_metric", true, func(b backend) error {
		return b.writeQueryMetric(m)
	})
}

// TokenMetricsSince returns token rows at or after since.
func (s *Store) TokenMetricsSince(since time.Time) ([]TokenMetric, error) {
	var out []TokenMetric
	err := s.run("token_metrics", false, func(b backend) error {
		var err error
		out, err = b.tokenMetricsSince(since)
		return err
	})
	return out, err
}

// QueryMetricsSince returns timing rows at or after since.
func (s *Store) QueryMetricsSince(since time.Time) ([]QueryMetric, error) {
	var out []QueryMetric
	err := s.run("query_metrics", false, func(b backend) error {
		var err error
		out, err = b.queryMetricsSince(since)
		return err
	})
	return out, err
}

// PruneMetricsBefore drops metric rows older than cutoff.
func (s *Store) PruneMetricsBefore(cutoff time.Time) error {
	return s.run("prune_metrics", true, func(b backend) error {
		return b.pruneMetricsBefore(cutoff)
	})
}

// Path returns the configured data file location.
func (s *Store) Path() string { return s.path }

// Close drains pending writes and flushes the backend image to disk.
// The handle is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend == nil {
		return nil
	}
	s.ser.close()
	err := s.backend.close()
	s.backend = nil
	if err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}
