package metrics

import (
	"time"

	"github.com/stellarlinkco/memvault/internal/store"
)

// OpStats is the rollup of one operation's timing rows.
type OpStats struct {
	Count   int
	TotalMs int64
	AvgMs   float64
}

// Dashboard is a coarse snapshot for UI polling.
type Dashboard struct {
	WindowDays        int
	TokenRows         int
	TotalInputTokens  int
	TotalOutputTokens int
	TotalTokens       int
	ByModel           map[string]int
	ByStatus          map[store.ContextStatus]int
}

const dashboardWindowDays = 7

// GetToolMetrics groups timing rows from the last windowDays by
// operation. Results are cached briefly to survive repeated UI polling.
func (r *Recorder) GetToolMetrics(windowDays int) (map[string]OpStats, error) {
	if windowDays <= 0 {
		windowDays = dashboardWindowDays
	}

	r.aggMu.Lock()
	if hit, ok := r.toolCache[windowDays]; ok && time.Since(hit.at) < aggregateCacheTTL {
		r.aggMu.Unlock()
		return cloneOpStats(hit.data), nil
	}
	r.aggMu.Unlock()

	since := time.Now().UTC().AddDate(0, 0, -windowDays)
	rows, err := r.sink.QueryMetricsSince(since)
	if err != nil {
		return nil, err
	}

	out := make(map[string]OpStats)
	for _, row := range rows {
		st := out[row.Operation]
		st.Count++
		st.TotalMs += row.ElapsedMs
		out[row.Operation] = st
	}
	for op, st := range out {
		st.AvgMs = float64(st.TotalMs) / float64(st.Count)
		out[op] = st
	}

	r.aggMu.Lock()
	r.toolCache[windowDays] = cachedTools{at: time.Now(), data: out}
	r.aggMu.Unlock()
	return cloneOpStats(out), nil
}

// cloneOpStats shields the cached map from caller mutation.
func cloneOpStats(in map[string]OpStats) map[string]OpStats {
	out := make(map[string]OpStats, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetDashboardMetrics summarizes recent token usage, cached briefly.
func (r *Recorder) GetDashboardMetrics() (Dashboard, error) {
	r.aggMu.Lock()
	if r.dashCache != nil && time.Since(r.dashCache.at) < aggregateCacheTTL {
		d := r.dashCache.data
		r.aggMu.Unlock()
		return cloneDashboard(d), nil
	}
	r.aggMu.Unlock()

	since := time.Now().UTC().AddDate(0, 0, -dashboardWindowDays)
	rows, err := r.sink.TokenMetricsSince(since)
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		WindowDays: dashboardWindowDays,
		ByModel:    make(map[string]int),
		ByStatus:   make(map[store.ContextStatus]int),
	}
	for _, row := range rows {
		d.TokenRows++
		d.TotalInputTokens += row.InputTokens
		d.TotalOutputTokens += row.OutputTokens
		d.TotalTokens += row.TotalTokens
		d.ByModel[row.Model] += row.TotalTokens
		d.ByStatus[row.ContextStatus]++
	}

	r.aggMu.Lock()
	r.dashCache = &cachedDashboard{at: time.Now(), data: d}
	r.aggMu.Unlock()
	return cloneDashboard(d), nil
}

// cloneDashboard deep-copies the grouping maps; the scalar fields copy by
// value.
func cloneDashboard(d Dashboard) Dashboard {
	byModel := make(map[string]int, len(d.ByModel))
	for k, v := range d.ByModel {
		byModel[k] = v
	}
	byStatus := make(map[store.ContextStatus]int, len(d.ByStatus))
	for k, v := range d.ByStatus {
		byStatus[k] = v
	}
	d.ByModel = byModel
	d.ByStatus = byStatus
	return d
}
