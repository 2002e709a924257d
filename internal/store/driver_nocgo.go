//go:build !cgo

package store

// Without cgo the native engine cannot be compiled in; only the portable
// pure-Go engine is a candidate before the flat-file fallback.
func driverCandidates() []driverCandidate {
	return []driverCandidate{
		{driver: "sqlite", kind: BackendPureGoSQLite},
	}
}
