package store

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
)

// currentSchemaVersion is the version this build expects. Migrations are
// additive only; destructive schema changes are out of scope.
const currentSchemaVersion = 2

type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				category TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				tag TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_entries_category_ts ON entries(category, timestamp)`,
			`CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON entries(timestamp)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS token_metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				model TEXT NOT NULL,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				total_tokens INTEGER NOT NULL DEFAULT 0,
				operation TEXT NOT NULL DEFAULT '',
				context_status TEXT NOT NULL DEFAULT 'healthy'
			)`,
			`CREATE INDEX IF NOT EXISTS idx_token_metrics_ts ON token_metrics(timestamp)`,
			`CREATE TABLE IF NOT EXISTS query_metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				operation TEXT NOT NULL,
				elapsed_ms INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_query_metrics_ts ON query_metrics(timestamp, operation)`,
		},
	},
}

// ensureSchema brings the database to currentSchemaVersion. When the stored
// version is behind, the data file is backed up first and all pending
// migrations run inside one transaction; a failure leaves the file exactly
// as it was (the caller restores the backup on *MigrationError).
func ensureSchema(db *sql.DB, path string) (backupPath string, err error) {
	return ensureSchemaWith(db, path, migrations, currentSchemaVersion)
}

func ensureSchemaWith(db *sql.DB, path string, migs []migration, target int) (backupPath string, err error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return "", fmt.Errorf("create schema_version: %w", err)
	}

	var stored int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&stored); err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	if stored == target {
		return "", nil
	}
	if stored > target {
		return "", &MigrationError{
			FromVersion: stored,
			ToVersion:   target,
			Err:         fmt.Errorf("data file is newer than this build"),
		}
	}

	// Only a file with applied schema carries data worth guarding.
	if stored > 0 {
		// Fold the WAL in so the backup is a complete image.
		_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		backupPath = fmt.Sprintf("%s.backup-v%d", path, stored)
		if err := copyFile(path, backupPath); err != nil {
			return "", fmt.Errorf("backup before migration: %w", err)
		}
		log.Printf("[store] migration backup written: %s", backupPath)
	}

	if err := applyMigrations(db, stored, migs, target); err != nil {
		return backupPath, &MigrationError{FromVersion: stored, ToVersion: target, Err: err}
	}
	log.Printf("[store] schema migrated v%d -> v%d", stored, target)
	return backupPath, nil
}

func applyMigrations(db *sql.DB, from int, migs []migration, target int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range migs {
		if m.version <= from {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("apply migration v%d: %w", m.version, err)
			}
		}
	}

	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("clear schema version: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		target, nowUTC()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return out.Close()
}

// restoreBackup puts the pre-migration image back over the data file.
func restoreBackup(path, backupPath string) error {
	if backupPath == "" {
		return fmt.Errorf("no backup to restore")
	}
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup missing: %w", err)
	}
	// Drop WAL leftovers so the restored image opens clean.
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	return copyFile(backupPath, path)
}
