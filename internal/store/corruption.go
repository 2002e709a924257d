package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CorruptionReport classifies a storage failure.
type CorruptionReport struct {
	Corrupted   bool
	Recoverable bool
	Reason      string
}

// corruptionSignatures maps known engine error text to a classification.
// Matching is substring, case-insensitive.
var corruptionSignatures = []struct {
	match       string
	reason      string
	recoverable bool
}{
	{"database disk image is malformed", "checksum mismatch", true},
	{"malformed database schema", "malformed schema", true},
	{"file is not a database", "malformed header", true},
	{"file is encrypted or is not a database", "malformed header", true},
	{"unexpected end of file", "truncated file", true},
	{"short read", "truncated file", true},
	{"disk i/o error", "i/o failure", false},
}

// DetectCorruption matches a raw storage error against known corruption
// signatures. Lock contention and plain I/O errors are not corruption.
func DetectCorruption(err error) CorruptionReport {
	if err == nil {
		return CorruptionReport{}
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range corruptionSignatures {
		if strings.Contains(msg, sig.match) {
			return CorruptionReport{Corrupted: true, Recoverable: sig.recoverable, Reason: sig.reason}
		}
	}
	return CorruptionReport{}
}

// IntegrityReport is the result of an engine-native consistency pass.
type IntegrityReport struct {
	Valid  bool
	Issues []string
}

// VerifyIntegrity runs the engine's consistency check against a data file
// without touching any live store handle.
func VerifyIntegrity(path string) (IntegrityReport, error) {
	if _, err := os.Stat(path); err != nil {
		return IntegrityReport{}, fmt.Errorf("stat %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("open for verify: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("PRAGMA integrity_check")
	if err != nil {
		if report := DetectCorruption(err); report.Corrupted {
			return IntegrityReport{Valid: false, Issues: []string{report.Reason}}, nil
		}
		return IntegrityReport{}, fmt.Errorf("integrity check: %w", err)
	}
	defer rows.Close()

	report := IntegrityReport{Valid: true}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return IntegrityReport{}, fmt.Errorf("scan integrity row: %w", err)
		}
		if line != "ok" {
			report.Valid = false
			report.Issues = append(report.Issues, line)
		}
	}
	if err := rows.Err(); err != nil {
		return IntegrityReport{}, fmt.Errorf("iterate integrity rows: %w", err)
	}
	return report, nil
}

// AttemptRecovery restores the given backup over the data file. The backup
// is verified first; an unusable or missing backup is an unrecoverable
// failure and is never retried here.
func AttemptRecovery(path, backupPath string) error {
	if backupPath == "" {
		return fmt.Errorf("recovery: no backup available for %s", path)
	}
	report, err := VerifyIntegrity(backupPath)
	if err != nil {
		return fmt.Errorf("recovery: verify backup %s: %w", backupPath, err)
	}
	if !report.Valid {
		return fmt.Errorf("recovery: backup %s failed verification: %s",
			backupPath, strings.Join(report.Issues, "; "))
	}
	if err := restoreBackup(path, backupPath); err != nil {
		return fmt.Errorf("recovery: restore %s: %w", backupPath, err)
	}
	log.Printf("[store] restored %s from backup %s", path, backupPath)
	return nil
}

// latestBackup finds the newest migration backup for a data file, or ""
// when none exists.
func latestBackup(path string) string {
	matches, err := filepath.Glob(path + ".backup-v*")
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}
