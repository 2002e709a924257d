//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// With cgo available the natively compiled engine is preferred; the pure-Go
// engine remains the portable fallback.
func driverCandidates() []driverCandidate {
	return []driverCandidate{
		{driver: "sqlite3", kind: BackendNativeSQLite},
		{driver: "sqlite", kind: BackendPureGoSQLite},
	}
}
