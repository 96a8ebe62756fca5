package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestBreaker(t *testing.T, cfg Config) *Breaker {
	t.Helper()
	b, err := New("test", cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func failing() error    { return errors.New("boom") }
func succeeding() error { return nil }

func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero failure threshold", Config{FailureThreshold: 0, RecoveryTimeout: time.Second, SuccessThreshold: 1}},
		{"negative failure threshold", Config{FailureThreshold: -1, RecoveryTimeout: time.Second, SuccessThreshold: 1}},
		{"zero recovery timeout", Config{FailureThreshold: 3, RecoveryTimeout: 0, SuccessThreshold: 1}},
		{"zero success threshold", Config{FailureThreshold: 3, RecoveryTimeout: time.Second, SuccessThreshold: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New("bad", tc.cfg); err == nil {
				t.Fatal("expected error for invalid config")
			}
		})
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := newTestBreaker(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, SuccessThreshold: 1})

	for i := 0; i < 3; i++ {
		if err := b.Call(failing); errors.Is(err, ErrOpen) {
			t.Fatalf("call %d rejected before threshold reached", i+1)
		}
	}
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("State = %q after threshold failures, want %q", got, StateOpen)
	}

	// Next call must be rejected without invoking the operation.
	invoked := false
	err := b.Call(func() error { invoked = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Call while open = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("operation was invoked while breaker open")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, SuccessThreshold: 1})

	_ = b.Call(failing)
	_ = b.Call(failing)
	_ = b.Call(succeeding)

	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("State = %q, want %q", snap.State, StateClosed)
	}
	if snap.FailureCount != 0 {
		t.Errorf("FailureCount = %d after success in closed state, want 0", snap.FailureCount)
	}
}

func TestRecoveryHalfOpenThenClose(t *testing.T) {
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, SuccessThreshold: 1})

	_ = b.Call(failing)
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("State = %q, want %q", got, StateOpen)
	}

	time.Sleep(30 * time.Millisecond)

	// First call after the recovery timeout is the half-open probe.
	if err := b.Call(succeeding); err != nil {
		t.Fatalf("probe call: %v", err)
	}

	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("State = %q after successful probe, want %q", snap.State, StateClosed)
	}
	if snap.FailureCount != 0 {
		t.Errorf("FailureCount = %d after close, want 0", snap.FailureCount)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond, SuccessThreshold: 1})

	_ = b.Call(failing)
	time.Sleep(30 * time.Millisecond)

	if err := b.Call(failing); errors.Is(err, ErrOpen) {
		t.Fatal("probe call was rejected instead of attempted")
	}
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("State = %q after failed probe, want %q", got, StateOpen)
	}
}

func TestSuccessThresholdRequiresMultipleProbes(t *testing.T) {
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 2})

	_ = b.Call(failing)
	time.Sleep(20 * time.Millisecond)

	if err := b.Call(succeeding); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if got := b.Snapshot().State; got != StateHalfOpen {
		t.Fatalf("State = %q after one success, want %q", got, StateHalfOpen)
	}

	if err := b.Call(succeeding); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("State = %q after two successes, want %q", got, StateClosed)
	}
}

func TestSingleProbeWhileHalfOpen(t *testing.T) {
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, SuccessThreshold: 1})

	_ = b.Call(failing)
	time.Sleep(20 * time.Millisecond)

	// Hold the probe slot open with a slow call, then race other callers
	// against it. Exactly one operation may run.
	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	var wg sync.WaitGroup
	var rejected int64
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Call(func() error { return nil })
			if errors.Is(err, ErrOpen) {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if rejected != 8 {
		t.Errorf("rejected = %d concurrent callers during probe, want 8", rejected)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if got := b.Snapshot().State; got != StateClosed {
		t.Fatalf("State = %q after probe success, want %q", got, StateClosed)
	}
}

func TestReset(t *testing.T) {
	b := newTestBreaker(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Minute, SuccessThreshold: 1})

	_ = b.Call(failing)
	if got := b.Snapshot().State; got != StateOpen {
		t.Fatalf("State = %q, want %q", got, StateOpen)
	}

	b.Reset()
	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Errorf("State = %q after Reset, want %q", snap.State, StateClosed)
	}
	if snap.FailureCount != 0 {
		t.Errorf("FailureCount = %d after Reset, want 0", snap.FailureCount)
	}

	if err := b.Call(succeeding); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}
