// Package breaker implements a per-dependency circuit breaker with the
// standard Closed → Open → HalfOpen state machine.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Call when the breaker is short-circuiting.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds breaker thresholds. All values must be positive.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // how long to stay open before probing
	SuccessThreshold int           // half-open successes required to close
}

// DefaultConfig returns conservative production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker guards calls to a single named dependency.
type Breaker struct {
	name string
	cfg  Config

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	probing      bool // a half-open trial call is in flight
}

// New creates a Breaker. It fails fast on non-positive config values.
func New(name string, cfg Config) (*Breaker, error) {
	if cfg.FailureThreshold <= 0 {
		return nil, fmt.Errorf("breaker %q: failure threshold must be positive, got %d", name, cfg.FailureThreshold)
	}
	if cfg.RecoveryTimeout <= 0 {
		return nil, fmt.Errorf("breaker %q: recovery timeout must be positive, got %s", name, cfg.RecoveryTimeout)
	}
	if cfg.SuccessThreshold <= 0 {
		return nil, fmt.Errorf("breaker %q: success threshold must be positive, got %d", name, cfg.SuccessThreshold)
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}, nil
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Call runs op through the breaker. When the breaker is Open and the
// recovery timeout has not elapsed, op is not invoked and Call returns
// ErrOpen. While HalfOpen, only one trial call runs at a time; losers of
// the probe race are rejected with ErrOpen rather than queued.
func (b *Breaker) Call(op func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := op()
	b.record(err == nil)
	return err
}

// acquire decides whether a call may proceed, transitioning Open→HalfOpen
// when the recovery timeout has elapsed.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.RecoveryTimeout {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.state = StateHalfOpen
		b.successCount = 0
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.probing = true
		return nil
	}
	return nil
}

// record applies the outcome of a completed call.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failureCount = 0
			return
		}
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.lastFailure = time.Now()
		}
	case StateHalfOpen:
		b.probing = false
		if !success {
			b.state = StateOpen
			b.lastFailure = time.Now()
			b.successCount = 0
			return
		}
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}
	case StateOpen:
		// A call that started before the breaker opened; count its failure
		// time so the recovery window restarts from the latest failure.
		if !success {
			b.lastFailure = time.Now()
		}
	}
}

// Reset manually returns the breaker to Closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.probing = false
}

// Snapshot is a point-in-time copy of breaker state for status surfaces.
type Snapshot struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	FailureCount    int        `json:"failure_count"`
	SuccessCount    int        `json:"success_count"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

// Snapshot returns a copy of the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	return s
}
