package store

import "fmt"

// ValidationError rejects a malformed entry before it reaches a backend.
// It is never retried and never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid entry: %s: %s", e.Field, e.Reason)
}

// StorageError wraps an I/O or engine failure surfaced to the caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// MigrationError is fatal: the schema could not be brought to the expected
// version. Restored reports whether the pre-migration backup was put back.
type MigrationError struct {
	FromVersion int
	ToVersion   int
	Restored    bool
	Err         error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration v%d -> v%d failed (backup restored: %v): %v",
		e.FromVersion, e.ToVersion, e.Restored, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
