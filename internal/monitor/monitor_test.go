package monitor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lucasnoah/stagecoach/internal/breaker"
)

func TestRecordCountersAndLatencies(t *testing.T) {
	m := New()

	m.Record("writer", 10*time.Millisecond, true, nil)
	m.Record("writer", 30*time.Millisecond, true, nil)
	m.Record("writer", 20*time.Millisecond, false, errors.New("timeout"))

	snap := m.Snapshot()
	rec, ok := snap["writer"]
	if !ok {
		t.Fatal("no record for stage writer")
	}
	if rec.CallsTotal != 3 {
		t.Errorf("CallsTotal = %d, want 3", rec.CallsTotal)
	}
	if rec.FailuresTotal != 1 {
		t.Errorf("FailuresTotal = %d, want 1", rec.FailuresTotal)
	}
	if rec.LastLatencyMs != 20 {
		t.Errorf("LastLatencyMs = %d, want 20", rec.LastLatencyMs)
	}
	if rec.MinLatencyMs != 10 {
		t.Errorf("MinLatencyMs = %d, want 10", rec.MinLatencyMs)
	}
	if rec.MaxLatencyMs != 30 {
		t.Errorf("MaxLatencyMs = %d, want 30", rec.MaxLatencyMs)
	}
	if rec.AvgLatencyMs != 20 {
		t.Errorf("AvgLatencyMs = %d, want 20", rec.AvgLatencyMs)
	}
	if rec.LastError != "timeout" {
		t.Errorf("LastError = %q, want %q", rec.LastError, "timeout")
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestP95WindowIsBounded(t *testing.T) {
	m := NewWithWindow(10)

	// Fill the window with slow samples, then push them out with fast ones.
	for i := 0; i < 10; i++ {
		m.Record("quality", time.Second, true, nil)
	}
	for i := 0; i < 10; i++ {
		m.Record("quality", time.Millisecond, true, nil)
	}

	rec := m.Snapshot()["quality"]
	if rec.P95LatencyMs >= 1000 {
		t.Errorf("P95LatencyMs = %d, old samples should have been evicted", rec.P95LatencyMs)
	}
}

func TestP95Percentile(t *testing.T) {
	m := NewWithWindow(100)

	// 95 fast samples and 5 slow ones: p95 lands on the slow tail.
	for i := 0; i < 95; i++ {
		m.Record("style", 10*time.Millisecond, true, nil)
	}
	for i := 0; i < 5; i++ {
		m.Record("style", 500*time.Millisecond, true, nil)
	}

	rec := m.Snapshot()["style"]
	if rec.P95LatencyMs != 500 {
		t.Errorf("P95LatencyMs = %d, want 500", rec.P95LatencyMs)
	}
}

func TestBreakerSnapshots(t *testing.T) {
	m := New()
	b, err := breaker.New("research", breaker.DefaultConfig())
	if err != nil {
		t.Fatalf("breaker.New: %v", err)
	}
	m.ObserveBreaker("research", b)

	snaps := m.BreakerSnapshots()
	if got := snaps["research"].State; got != breaker.StateClosed {
		t.Errorf("State = %q, want %q", got, breaker.StateClosed)
	}

	// Breaker state also rides along on the stage record.
	m.Record("research", time.Millisecond, true, nil)
	rec := m.Snapshot()["research"]
	if rec.BreakerState.State != breaker.StateClosed {
		t.Errorf("record BreakerState = %q, want %q", rec.BreakerState.State, breaker.StateClosed)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Record("audience", time.Millisecond, j%2 == 0, nil)
			}
		}()
	}
	wg.Wait()

	rec := m.Snapshot()["audience"]
	if rec.CallsTotal != 800 {
		t.Errorf("CallsTotal = %d, want 800 (lost updates under concurrency)", rec.CallsTotal)
	}
	if rec.FailuresTotal != 400 {
		t.Errorf("FailuresTotal = %d, want 400", rec.FailuresTotal)
	}
}
