package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lucasnoah/stagecoach/internal/breaker"
	"github.com/lucasnoah/stagecoach/internal/monitor"
)

// RetryPolicy bounds the retry loop for transient failures.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first; defaults to 3
	BaseBackoff time.Duration // first retry delay; defaults to 100ms
	MaxBackoff  time.Duration // backoff cap; defaults to 5s
}

// DefaultRetryPolicy returns the standard transient-retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// backoff returns the delay before retry attempt i (0-based), doubling from
// BaseBackoff and capped at MaxBackoff.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// normalize fills zero fields with defaults.
func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = def.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	return p
}

// CheckpointLabelFor maps a stage name to the checkpoint label its worker
// expects. Early stages get pre-writing feedback, drafting stages mid-writing,
// and review stages post-writing.
func CheckpointLabelFor(stage string) string {
	switch stage {
	case "research", "audience":
		return "pre-writing"
	case "writer", "style":
		return "mid-writing"
	case "quality":
		return "post-writing"
	default:
		return "mid-writing"
	}
}

// ModeFor picks the validation mode for a stage: review stages get the
// exhaustive rule set, everything earlier gets lightweight feedback.
func ModeFor(stage string) Mode {
	if stage == "quality" {
		return ModeComprehensive
	}
	return ModeSelective
}

// ClientOpts configures a stage client.
type ClientOpts struct {
	Stage      string
	Worker     Worker
	Breaker    *breaker.Breaker
	Monitor    *monitor.Monitor
	Retry      RetryPolicy
	Mode       Mode   // empty = ModeFor(Stage)
	Checkpoint string // empty = CheckpointLabelFor(Stage)

	// sleep overrides the backoff sleep (for testing).
	sleep func(time.Duration)
}

// Client wraps one remote stage worker with circuit breaking, a bounded
// retry loop for transient errors, and performance reporting.
type Client struct {
	stage      string
	worker     Worker
	breaker    *breaker.Breaker
	monitor    *monitor.Monitor
	retry      RetryPolicy
	mode       Mode
	checkpoint string
	sleep      func(time.Duration)

	probeMu  sync.Mutex
	probed   bool
	probeErr error // pinned ConfigError; transient probe failures re-probe
}

// NewClient creates a stage client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Stage == "" {
		return nil, errors.New("client: stage name is required")
	}
	if opts.Worker == nil {
		return nil, fmt.Errorf("client %q: worker is required", opts.Stage)
	}
	if opts.Breaker == nil {
		return nil, fmt.Errorf("client %q: breaker is required", opts.Stage)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeFor(opts.Stage)
	}
	checkpoint := opts.Checkpoint
	if checkpoint == "" {
		checkpoint = CheckpointLabelFor(opts.Stage)
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	if opts.Monitor != nil {
		opts.Monitor.ObserveBreaker(opts.Stage, opts.Breaker)
	}

	return &Client{
		stage:      opts.Stage,
		worker:     opts.Worker,
		breaker:    opts.Breaker,
		monitor:    opts.Monitor,
		retry:      opts.Retry.normalize(),
		mode:       mode,
		checkpoint: checkpoint,
		sleep:      sleep,
	}, nil
}

// Stage returns the stage name this client serves.
func (c *Client) Stage() string {
	return c.stage
}

// Breaker exposes the client's breaker for status surfaces and manual reset.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

// ensureProbed runs the capability probe before the first real call.
// A ConfigError pins the client: every subsequent call fails fast without
// touching the worker. Transient probe failures are retried on the next call.
func (c *Client) ensureProbed(ctx context.Context) error {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	if c.probed {
		return c.probeErr
	}

	err := c.worker.Probe(ctx)
	if err == nil {
		c.probed = true
		return nil
	}

	var ce *ConfigError
	if errors.As(err, &ce) {
		// Capability mismatch is permanent until reconfigured.
		c.probed = true
		c.probeErr = err
		return err
	}
	// Transient probe failure — leave unprobed so the next call retries.
	return err
}

// Invoke calls the stage worker with the client's mode and checkpoint label.
// Transient failures are retried with exponential backoff; breaker rejections
// and application-level errors are returned immediately. Every invocation,
// including rejected ones, is reported to the monitor.
func (c *Client) Invoke(ctx context.Context, content string, platform string) (*Result, error) {
	start := time.Now()
	result, err := c.invoke(ctx, content, platform)
	if c.monitor != nil {
		c.monitor.Record(c.stage, time.Since(start), err == nil, err)
	}
	return result, err
}

func (c *Client) invoke(ctx context.Context, content string, platform string) (*Result, error) {
	if err := c.ensureProbed(ctx); err != nil {
		return nil, err
	}

	req := Request{
		Content:    content,
		Mode:       c.mode,
		Checkpoint: c.checkpoint,
		Platform:   platform,
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(c.retry.backoff(attempt - 1))
		}

		var result *Result
		err := c.breaker.Call(func() error {
			var callErr error
			result, callErr = c.worker.Invoke(ctx, req)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, breaker.ErrOpen) {
			// Dependency unavailable — surface immediately, never retry here.
			return nil, err
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("stage %q: retries exhausted after %d attempts: %w", c.stage, c.retry.MaxAttempts, lastErr)
}
