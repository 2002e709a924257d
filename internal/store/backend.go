package store

import "time"

// BackendKind identifies the concrete storage engine behind a Store.
type BackendKind string

const (
	// BackendNativeSQLite is the natively compiled cgo engine.
	BackendNativeSQLite BackendKind = "sqlite-native"
	// BackendPureGoSQLite is the portable in-process engine.
	BackendPureGoSQLite BackendKind = "sqlite-purego"
	// BackendFlatFile is the last-resort structured-file store.
	BackendFlatFile BackendKind = "flatfile"
)

// BackendInfo describes the active engine. The choice is recorded at init
// and queryable but never switched at runtime.
type BackendInfo struct {
	Kind    BackendKind
	Driver  string
	Version string
	Path    string
}

// backend is the capability surface every engine variant implements.
// Callers depend only on this interface; the variant is picked at init.
type backend interface {
	append(e Entry) (int64, error)
	queryByCategory(cat Category, limit int) ([]Entry, error)
	queryByDateRange(cat Category, start, end time.Time) ([]Entry, error)
	search(term string, limit int) ([]Entry, error)
	recent(cat Category, count int) ([]Entry, error)
	stats() (Stats, error)
	info() BackendInfo

	writeTokenMetric(m TokenMetric) error
	writeQueryMetric(m QueryMetric) error
	tokenMetricsSince(since time.Time) ([]TokenMetric, error)
	queryMetricsSince(since time.Time) ([]QueryMetric, error)
	pruneMetricsBefore(cutoff time.Time) error

	// concurrentReadSafe reports whether reads may bypass the write
	// serializer on this engine.
	concurrentReadSafe() bool
	close() error
}

// driverCandidate is one entry in the ordered engine resolution chain.
type driverCandidate struct {
	driver string
	kind   BackendKind
}
