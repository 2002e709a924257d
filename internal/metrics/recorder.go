// Package metrics collects sampled operation telemetry. Writes happen on
// a background worker fed by a bounded channel; a full channel or a
// failing write never affects the measured operation.
package metrics

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stellarlinkco/memvault/internal/store"
)

const (
	// DefaultSamplingRate records roughly one in five operations.
	DefaultSamplingRate = 5
	// DefaultRetentionDays bounds how long raw metric rows are kept.
	DefaultRetentionDays = 30
	// DefaultBufferSize bounds the in-flight metric channel.
	DefaultBufferSize = 128

	aggregateCacheTTL = 30 * time.Second
)

// Sink is where metric rows land; satisfied by *store.Store.
type Sink interface {
	RecordTokenMetric(m store.TokenMetric) error
	RecordQueryMetric(m store.QueryMetric) error
	TokenMetricsSince(since time.Time) ([]store.TokenMetric, error)
	QueryMetricsSince(since time.Time) ([]store.QueryMetric, error)
	PruneMetricsBefore(cutoff time.Time) error
}

// Options tune the recorder. SamplingRate is a policy default, not a hard
// constant; Debug disables sampling and records every operation.
type Options struct {
	SamplingRate  int
	RetentionDays int
	BufferSize    int
	Debug         bool
}

type event struct {
	token *store.TokenMetric
	query *store.QueryMetric
}

// Recorder wraps store and selector operations with timing and writes
// rows asynchronously.
type Recorder struct {
	sink       Sink
	events     chan event
	sampleRate int
	debug      bool
	retention  time.Duration

	cron *cron.Cron
	done chan struct{}

	aggMu     sync.Mutex
	toolCache map[int]cachedTools
	dashCache *cachedDashboard
}

type cachedTools struct {
	at   time.Time
	data map[string]OpStats
}

type cachedDashboard struct {
	at   time.Time
	data Dashboard
}

// NewRecorder builds and starts a recorder. Call Close on shutdown to
// drain pending rows.
func NewRecorder(sink Sink, opts Options) *Recorder {
	if opts.SamplingRate <= 0 {
		opts.SamplingRate = DefaultSamplingRate
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	r := &Recorder{
		sink:       sink,
		events:     make(chan event, opts.BufferSize),
		sampleRate: opts.SamplingRate,
		debug:      opts.Debug,
		retention:  time.Duration(opts.RetentionDays) * 24 * time.Hour,
		cron:       cron.New(),
		done:       make(chan struct{}),
		toolCache:  make(map[int]cachedTools),
	}
	go r.worker()

	if _, err := r.cron.AddFunc("@daily", r.pruneExpired); err != nil {
		log.Printf("[metrics] schedule retention prune: %v", err)
	} else {
		r.cron.Start()
	}
	return r
}

func (r *Recorder) worker() {
	defer close(r.done)
	for ev := range r.events {
		var err error
		switch {
		case ev.token != nil:
			err = r.sink.RecordTokenMetric(*ev.token)
		case ev.query != nil:
			err = r.sink.RecordQueryMetric(*ev.query)
		}
		if err != nil {
			// Metrics are loss-tolerant; log and move on.
			log.Printf("[metrics] write dropped: %v", err)
		}
	}
}

func (r *Recorder) pruneExpired() {
	cutoff := time.Now().UTC().Add(-r.retention)
	if err := r.sink.PruneMetricsBefore(cutoff); err != nil {
		log.Printf("[metrics] retention prune failed: %v", err)
	}
}

// Close stops the retention scheduler and drains queued rows.
func (r *Recorder) Close() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	close(r.events)
	<-r.done
}

func (r *Recorder) shouldSample() bool {
	if r.debug {
		return true
	}
	return rand.Intn(r.sampleRate) == 0
}

func (r *Recorder) emit(ev event) {
	select {
	case r.events <- ev:
	default:
		// Channel full: drop rather than delay the measured call.
		log.Printf("[metrics] buffer full, metric dropped")
	}
}

// Observe times fn under the given operation name and returns fn's error
// untouched. The timing row is sampled and written asynchronously.
func (r *Recorder) Observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	if r.shouldSample() {
		r.emit(event{query: &store.QueryMetric{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Operation: operation,
			ElapsedMs: time.Since(start).Milliseconds(),
		}})
	}
	return err
}

// RecordTokenUsage emits one token usage row, grading context health from
// budget utilisation.
func (r *Recorder) RecordTokenUsage(model, operation string, inputTokens, outputTokens, budget int) {
	if !r.shouldSample() {
		return
	}
	total := inputTokens + outputTokens
	r.emit(event{token: &store.TokenMetric{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Model:         model,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		TotalTokens:   total,
		Operation:     operation,
		ContextStatus: StatusFor(total, budget),
	}})
}

// StatusFor grades token usage against a budget.
func StatusFor(total, budget int) store.ContextStatus {
	if budget <= 0 {
		return store.ContextHealthy
	}
	util := float64(total) / float64(budget)
	switch {
	case util >= 0.9:
		return store.ContextCritical
	case util >= 0.7:
		return store.ContextWarning
	default:
		return store.ContextHealthy
	}
}
