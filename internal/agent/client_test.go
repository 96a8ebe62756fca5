package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucasnoah/stagecoach/internal/breaker"
	"github.com/lucasnoah/stagecoach/internal/monitor"
)

// --- Fake worker ---

type fakeWorker struct {
	probeErr   error
	probeCalls int

	results []fakeCall
	idx     int
	invoked int
}

type fakeCall struct {
	result *Result
	err    error
}

func (f *fakeWorker) Invoke(ctx context.Context, req Request) (*Result, error) {
	f.invoked++
	if f.idx >= len(f.results) {
		return &Result{Mode: req.Mode}, nil
	}
	c := f.results[f.idx]
	f.idx++
	return c.result, c.err
}

func (f *fakeWorker) Probe(ctx context.Context) error {
	f.probeCalls++
	return f.probeErr
}

// newTestClient builds a Client around a fake worker with instant backoff.
func newTestClient(t *testing.T, stage string, w Worker, m *monitor.Monitor) *Client {
	t.Helper()
	b, err := breaker.New(stage, breaker.Config{
		FailureThreshold: 10,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
	})
	if err != nil {
		t.Fatalf("breaker.New: %v", err)
	}
	c, err := NewClient(ClientOpts{
		Stage:   stage,
		Worker:  w,
		Breaker: b,
		Monitor: m,
		sleep:   func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestInvokeRetriesTransientErrors(t *testing.T) {
	w := &fakeWorker{results: []fakeCall{
		{err: &TransientError{Stage: "writer", Err: errors.New("timeout")}},
		{err: &TransientError{Stage: "writer", Err: errors.New("reset")}},
		{result: &Result{Mode: ModeSelective, RuleCount: 3}},
	}}
	c := newTestClient(t, "writer", w, nil)

	result, err := c.Invoke(context.Background(), "draft", "blog")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.RuleCount != 3 {
		t.Errorf("RuleCount = %d, want 3", result.RuleCount)
	}
	if w.invoked != 3 {
		t.Errorf("worker invoked %d times, want 3", w.invoked)
	}
}

func TestInvokeExhaustsRetries(t *testing.T) {
	w := &fakeWorker{results: []fakeCall{
		{err: &TransientError{Stage: "writer", Err: errors.New("timeout")}},
		{err: &TransientError{Stage: "writer", Err: errors.New("timeout")}},
		{err: &TransientError{Stage: "writer", Err: errors.New("timeout")}},
		{result: &Result{}},
	}}
	c := newTestClient(t, "writer", w, nil)

	_, err := c.Invoke(context.Background(), "draft", "blog")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if w.invoked != 3 {
		t.Errorf("worker invoked %d times, want 3 (default max attempts)", w.invoked)
	}
	if !IsTransient(err) {
		t.Errorf("exhausted error should still unwrap to transient, got %v", err)
	}
}

func TestInvokeDoesNotRetryApplicationErrors(t *testing.T) {
	w := &fakeWorker{results: []fakeCall{
		{err: &ApplicationError{Stage: "quality", StatusCode: 422, Message: "content rejected"}},
	}}
	c := newTestClient(t, "quality", w, nil)

	_, err := c.Invoke(context.Background(), "draft", "blog")
	var ae *ApplicationError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v (%T), want ApplicationError", err, err)
	}
	if w.invoked != 1 {
		t.Errorf("worker invoked %d times, want 1 (no retry)", w.invoked)
	}
}

func TestInvokeRejectedWhenBreakerOpen(t *testing.T) {
	b, err := breaker.New("writer", breaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
	})
	if err != nil {
		t.Fatalf("breaker.New: %v", err)
	}
	w := &fakeWorker{results: []fakeCall{
		{err: &TransientError{Stage: "writer", Err: errors.New("timeout")}},
	}}
	c, err := NewClient(ClientOpts{
		Stage:   "writer",
		Worker:  w,
		Breaker: b,
		sleep:   func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	// First invocation: attempt 1 fails and opens the breaker (threshold 1);
	// the retry is then rejected immediately without touching the worker.
	_, err = c.Invoke(context.Background(), "draft", "blog")
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen once breaker trips mid-retry", err)
	}
	if w.invoked != 1 {
		t.Errorf("worker invoked %d times, want 1", w.invoked)
	}

	// Subsequent invocations are rejected outright.
	_, err = c.Invoke(context.Background(), "draft", "blog")
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if w.invoked != 1 {
		t.Errorf("worker invoked %d times while open, want 1", w.invoked)
	}
}

func TestProbeConfigErrorIsPinned(t *testing.T) {
	w := &fakeWorker{probeErr: &ConfigError{Stage: "style", Reason: "no comprehensive endpoint"}}
	c := newTestClient(t, "style", w, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Invoke(context.Background(), "draft", "blog")
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("call %d: err = %v (%T), want ConfigError", i+1, err, err)
		}
	}
	if w.probeCalls != 1 {
		t.Errorf("probe called %d times, want 1 (pinned)", w.probeCalls)
	}
	if w.invoked != 0 {
		t.Errorf("worker invoked %d times despite failed probe, want 0", w.invoked)
	}
}

func TestTransientProbeFailureRetriesNextCall(t *testing.T) {
	w := &fakeWorker{probeErr: &TransientError{Stage: "style", Err: errors.New("refused")}}
	c := newTestClient(t, "style", w, nil)

	if _, err := c.Invoke(context.Background(), "draft", "blog"); err == nil {
		t.Fatal("expected probe failure")
	}

	w.probeErr = nil
	if _, err := c.Invoke(context.Background(), "draft", "blog"); err != nil {
		t.Fatalf("Invoke after probe recovery: %v", err)
	}
	if w.probeCalls != 2 {
		t.Errorf("probe called %d times, want 2", w.probeCalls)
	}
}

func TestInvokeReportsToMonitor(t *testing.T) {
	m := monitor.New()
	w := &fakeWorker{results: []fakeCall{
		{result: &Result{}},
		{err: &ApplicationError{Stage: "writer", StatusCode: 400, Message: "bad"}},
	}}
	c := newTestClient(t, "writer", w, m)

	_, _ = c.Invoke(context.Background(), "draft", "blog")
	_, _ = c.Invoke(context.Background(), "draft", "blog")

	rec := m.Snapshot()["writer"]
	if rec.CallsTotal != 2 {
		t.Errorf("CallsTotal = %d, want 2", rec.CallsTotal)
	}
	if rec.FailuresTotal != 1 {
		t.Errorf("FailuresTotal = %d, want 1", rec.FailuresTotal)
	}
	if rec.BreakerState.State != breaker.StateClosed {
		t.Errorf("BreakerState = %q, want closed", rec.BreakerState.State)
	}
}

func TestStageDefaults(t *testing.T) {
	cases := []struct {
		stage      string
		checkpoint string
		mode       Mode
	}{
		{"research", "pre-writing", ModeSelective},
		{"audience", "pre-writing", ModeSelective},
		{"writer", "mid-writing", ModeSelective},
		{"style", "mid-writing", ModeSelective},
		{"quality", "post-writing", ModeComprehensive},
		{"anything-else", "mid-writing", ModeSelective},
	}
	for _, tc := range cases {
		if got := CheckpointLabelFor(tc.stage); got != tc.checkpoint {
			t.Errorf("CheckpointLabelFor(%q) = %q, want %q", tc.stage, got, tc.checkpoint)
		}
		if got := ModeFor(tc.stage); got != tc.mode {
			t.Errorf("ModeFor(%q) = %q, want %q", tc.stage, got, tc.mode)
		}
	}
}
