// Package monitor aggregates per-stage call counts, latencies, and breaker
// state for the observability surface.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/lucasnoah/stagecoach/internal/breaker"
)

// DefaultWindowSize bounds the latency samples kept per stage for p95.
const DefaultWindowSize = 200

// StageRecord holds rolling performance counters for one stage.
type StageRecord struct {
	Stage         string           `json:"stage"`
	CallsTotal    int64            `json:"calls_total"`
	FailuresTotal int64            `json:"failures_total"`
	LastLatencyMs int64            `json:"last_latency_ms"`
	MinLatencyMs  int64            `json:"min_latency_ms"`
	MaxLatencyMs  int64            `json:"max_latency_ms"`
	AvgLatencyMs  int64            `json:"avg_latency_ms"`
	P95LatencyMs  int64            `json:"p95_latency_ms"`
	BreakerState  breaker.Snapshot `json:"breaker_state"`
	LastError     string           `json:"last_error,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// stageStats is the mutable per-stage accumulator behind a StageRecord.
type stageStats struct {
	mu sync.Mutex

	calls     int64
	failures  int64
	last      time.Duration
	min       time.Duration
	max       time.Duration
	total     time.Duration
	window    []time.Duration // bounded FIFO of recent latencies
	lastError string
	updatedAt time.Time
}

// Monitor collects stage performance records. Safe for concurrent use.
type Monitor struct {
	mu         sync.RWMutex
	stages     map[string]*stageStats
	breakers   map[string]*breaker.Breaker
	windowSize int
}

// New creates a Monitor with the default p95 window size.
func New() *Monitor {
	return NewWithWindow(DefaultWindowSize)
}

// NewWithWindow creates a Monitor with a custom p95 window size (for testing).
func NewWithWindow(windowSize int) *Monitor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Monitor{
		stages:     make(map[string]*stageStats),
		breakers:   make(map[string]*breaker.Breaker),
		windowSize: windowSize,
	}
}

// ObserveBreaker registers a breaker so its state appears in snapshots.
func (m *Monitor) ObserveBreaker(stage string, b *breaker.Breaker) {
	m.mu.Lock()
	m.breakers[stage] = b
	m.mu.Unlock()
}

// statsFor returns the accumulator for a stage, creating it lazily.
func (m *Monitor) statsFor(stage string) *stageStats {
	m.mu.RLock()
	st, ok := m.stages[stage]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok = m.stages[stage]; ok {
		return st
	}
	st = &stageStats{}
	m.stages[stage] = st
	return st
}

// Record reports one stage call outcome. Fire-and-forget: it never fails.
// Rejected calls (breaker open) are recorded too — the caller passes the
// rejection error and whatever latency was observed (usually ~0).
func (m *Monitor) Record(stage string, latency time.Duration, success bool, callErr error) {
	st := m.statsFor(stage)

	st.mu.Lock()
	defer st.mu.Unlock()

	st.calls++
	if !success {
		st.failures++
		if callErr != nil {
			st.lastError = callErr.Error()
		}
	}
	st.last = latency
	st.total += latency
	if st.calls == 1 || latency < st.min {
		st.min = latency
	}
	if latency > st.max {
		st.max = latency
	}

	st.window = append(st.window, latency)
	if len(st.window) > m.windowSize {
		st.window = st.window[1:]
	}
	st.updatedAt = time.Now()
}

// Snapshot returns a copy of all stage records keyed by stage name.
func (m *Monitor) Snapshot() map[string]StageRecord {
	m.mu.RLock()
	names := make([]string, 0, len(m.stages))
	for name := range m.stages {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make(map[string]StageRecord, len(names))
	for _, name := range names {
		out[name] = m.snapshotStage(name)
	}
	return out
}

// snapshotStage builds the StageRecord for one stage.
func (m *Monitor) snapshotStage(stage string) StageRecord {
	m.mu.RLock()
	st := m.stages[stage]
	b := m.breakers[stage]
	m.mu.RUnlock()

	rec := StageRecord{Stage: stage}
	if b != nil {
		rec.BreakerState = b.Snapshot()
	}
	if st == nil {
		return rec
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rec.CallsTotal = st.calls
	rec.FailuresTotal = st.failures
	rec.LastLatencyMs = st.last.Milliseconds()
	rec.MinLatencyMs = st.min.Milliseconds()
	rec.MaxLatencyMs = st.max.Milliseconds()
	if st.calls > 0 {
		rec.AvgLatencyMs = (st.total / time.Duration(st.calls)).Milliseconds()
	}
	rec.P95LatencyMs = p95(st.window).Milliseconds()
	rec.LastError = st.lastError
	rec.UpdatedAt = st.updatedAt
	return rec
}

// BreakerSnapshots returns the current state of every observed breaker.
func (m *Monitor) BreakerSnapshots() map[string]breaker.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]breaker.Snapshot, len(m.breakers))
	for stage, b := range m.breakers {
		out[stage] = b.Snapshot()
	}
	return out
}

// p95 computes the 95th percentile of the sample window.
func p95(window []time.Duration) time.Duration {
	if len(window) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted) * 95) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
