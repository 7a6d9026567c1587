// Package ledger records every narrative generation attempt and gates the
// remote-model rollout. Audit writes are decoupled from the generation
// critical path: LogGeneration never blocks and sink failures are logged,
// never propagated.
package ledger

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veridoc/narrative/compliance"
)

// AnomalyDuration is the generation duration above which an audit is
// surfaced as an operational warning.
const AnomalyDuration = 10 * time.Second

// Defaults for the in-process buffers.
const (
	DefaultQueueSize   = 256
	DefaultHistorySize = 1000
)

// Experiment configures one percentage-based rollout flag.
type Experiment struct {
	// Enabled gates the experiment outright. A disabled experiment never
	// rolls out, whatever its percentage.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Percentage of calls (0-100) for which the experiment is active.
	Percentage float64 `yaml:"percentage" json:"percentage"`
}

// Sink is the external append-only audit store. Writes are best-effort.
type Sink interface {
	Append(ctx context.Context, audit *compliance.Audit) error
}

// NopSink discards audits. Used when no external sink is configured.
type NopSink struct{}

// Append discards the audit.
func (NopSink) Append(context.Context, *compliance.Audit) error { return nil }

// Stats aggregates generation activity over a time window.
type Stats struct {
	Total              int           `json:"total"`
	CacheHits          int           `json:"cache_hits"`
	Fallbacks          int           `json:"fallbacks"`
	ValidationFailures int           `json:"validation_failures"`
	Dropped            int64         `json:"dropped"`
	AvgDuration        time.Duration `json:"avg_duration"`
	EstimatedCost      float64       `json:"estimated_cost"`
}

// Ledger keeps a bounded in-process history of generation audits, forwards
// them to the sink from a background writer, and answers rollout decisions.
// Safe for concurrent use.
type Ledger struct {
	mu          sync.RWMutex
	experiments map[string]Experiment
	records     []*compliance.Audit // ring, newest last
	historySize int

	sink    Sink
	queue   chan *compliance.Audit
	dropped atomic.Int64

	randFloat func() float64
	logger    *slog.Logger
	metrics   *Metrics

	wg sync.WaitGroup
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSink sets the external audit sink.
func WithSink(sink Sink) Option {
	return func(l *Ledger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithMetrics sets the Prometheus metrics set.
func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithQueueSize sets the sink writer queue capacity.
func WithQueueSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.queue = make(chan *compliance.Audit, n)
		}
	}
}

// WithHistorySize sets how many recent audits are kept in process.
func WithHistorySize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.historySize = n
		}
	}
}

// WithRand overrides the rollout random source. Tests use this to make
// ShouldUseAI deterministic.
func WithRand(f func() float64) Option {
	return func(l *Ledger) {
		if f != nil {
			l.randFloat = f
		}
	}
}

// New creates a ledger over the given experiments. Call Start to run the
// background sink writer.
func New(experiments map[string]Experiment, opts ...Option) *Ledger {
	if experiments == nil {
		experiments = make(map[string]Experiment)
	}
	l := &Ledger{
		experiments: experiments,
		historySize: DefaultHistorySize,
		sink:        NopSink{},
		queue:       make(chan *compliance.Audit, DefaultQueueSize),
		randFloat:   rand.Float64,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the background sink writer. It drains the queue until ctx
// is cancelled.
func (l *Ledger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case audit := <-l.queue:
				l.writeSink(ctx, audit)
			}
		}
	}()
}

// Wait blocks until the background writer has stopped.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// ShouldUseAI decides whether remote-model generation is attempted for this
// call. A disabled or unconfigured experiment always answers false.
func (l *Ledger) ShouldUseAI(experimentName string) bool {
	l.mu.RLock()
	exp, ok := l.experiments[experimentName]
	l.mu.RUnlock()

	if !ok || !exp.Enabled {
		return false
	}
	if exp.Percentage >= 100 {
		return true
	}
	if exp.Percentage <= 0 {
		return false
	}
	return l.randFloat()*100 < exp.Percentage
}

// SetExperiment installs or replaces an experiment at runtime.
func (l *Ledger) SetExperiment(name string, exp Experiment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.experiments[name] = exp
}

// LogGeneration records an audit. It appends to the in-process history,
// updates metrics, flags anomalies, and enqueues the sink write. It never
// blocks: when the queue is full the record is dropped and counted.
func (l *Ledger) LogGeneration(audit *compliance.Audit) {
	if audit == nil {
		return
	}

	l.mu.Lock()
	l.records = append(l.records, audit)
	if len(l.records) > l.historySize {
		l.records = l.records[len(l.records)-l.historySize:]
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.Observe(audit)
	}

	if !audit.ValidationPassed || audit.Duration > AnomalyDuration {
		l.logger.Warn("Anomalous generation",
			"audit_id", audit.ID,
			"model", audit.Model,
			"validation_passed", audit.ValidationPassed,
			"validation_score", audit.ValidationScore,
			"duration", audit.Duration,
			"fallback_used", audit.FallbackUsed)
	}

	select {
	case l.queue <- audit:
	default:
		dropped := l.dropped.Add(1)
		if l.metrics != nil {
			l.metrics.AuditsDropped.Inc()
		}
		l.logger.Warn("Audit queue full, record dropped",
			"audit_id", audit.ID,
			"dropped_total", dropped)
	}
}

// writeSink performs one best-effort sink write.
func (l *Ledger) writeSink(ctx context.Context, audit *compliance.Audit) {
	if err := l.sink.Append(ctx, audit); err != nil {
		l.logger.Warn("Audit sink write failed",
			"audit_id", audit.ID,
			"error", err)
	}
}

// Dropped returns how many audits were dropped due to a full queue.
func (l *Ledger) Dropped() int64 {
	return l.dropped.Load()
}

// Records returns a copy of the in-process audit history.
func (l *Ledger) Records() []*compliance.Audit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*compliance.Audit, len(l.records))
	copy(out, l.records)
	return out
}

// Stats aggregates audits recorded within the window ending now. A zero
// window aggregates the whole in-process history.
func (l *Ledger) Stats(window time.Duration) Stats {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{Dropped: l.dropped.Load()}
	var totalDuration time.Duration

	for _, audit := range l.records {
		if !cutoff.IsZero() && audit.Timestamp.Before(cutoff) {
			continue
		}
		stats.Total++
		totalDuration += audit.Duration
		stats.EstimatedCost += audit.CostEstimated
		if audit.CacheHit {
			stats.CacheHits++
		}
		if audit.FallbackUsed {
			stats.Fallbacks++
		}
		if !audit.ValidationPassed {
			stats.ValidationFailures++
		}
	}

	if stats.Total > 0 {
		stats.AvgDuration = totalDuration / time.Duration(stats.Total)
	}
	return stats
}
