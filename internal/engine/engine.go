package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/stagecoach/internal/agent"
)

// Invoker is the slice of a stage client the engine needs. *agent.Client
// satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, content, platform string) (*agent.Result, error)
}

// EventSink receives pipeline lifecycle events and per-stage call outcomes.
// *db.DB satisfies it; a nil sink disables event logging.
type EventSink interface {
	LogFlowEvent(flowID, event, stage, detail string) error
	LogStageCall(flowID, stage string, success bool, durationMs int64, callErr string) error
}

// Opts configures an Engine.
type Opts struct {
	// Sequence is the ordered list of stage names to run.
	Sequence []string
	// Clients maps stage name to its invoker. Every sequence entry must
	// have a client.
	Clients map[string]Invoker
	// FailFast stops the pipeline at the first stage failure.
	FailFast bool
	// StageTimeout bounds each stage call. Zero means no per-stage bound.
	StageTimeout time.Duration
	// Events receives lifecycle events. May be nil.
	Events EventSink
	// Progress receives human-readable progress lines. May be nil.
	Progress io.Writer
}

// Engine runs content through an ordered stage pipeline, one background
// task per execution.
type Engine struct {
	sequence     []string
	clients      map[string]Invoker
	failFast     bool
	stageTimeout time.Duration
	events       EventSink
	progress     io.Writer

	mu         sync.RWMutex
	executions map[string]*Execution
	wg         sync.WaitGroup
}

// New builds an Engine, verifying each sequence entry has a client.
func New(opts Opts) (*Engine, error) {
	if len(opts.Sequence) == 0 {
		return nil, fmt.Errorf("engine requires at least one stage")
	}
	for _, name := range opts.Sequence {
		if _, ok := opts.Clients[name]; !ok {
			return nil, fmt.Errorf("no client for stage %q", name)
		}
	}
	return &Engine{
		sequence:     append([]string(nil), opts.Sequence...),
		clients:      opts.Clients,
		failFast:     opts.FailFast,
		stageTimeout: opts.StageTimeout,
		events:       opts.Events,
		progress:     opts.Progress,
		executions:   make(map[string]*Execution),
	}, nil
}

// Start registers a new execution and launches its background task. The
// returned snapshot has status pending; the task flips it to running.
func (e *Engine) Start(content, platform string) *Execution {
	return e.start(content, platform, nil)
}

func (e *Engine) start(content, platform string, inherit *Execution) *Execution {
	now := time.Now().UTC()
	ex := &Execution{
		ID:            uuid.NewString(),
		Content:       content,
		Platform:      platform,
		StageSequence: append([]string(nil), e.sequence...),
		StageResults:  make(map[string]*StageResult),
		StageErrors:   make(map[string]string),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if inherit != nil {
		ex.ResumedFrom = inherit.ID
		for name, r := range inherit.StageResults {
			cp := *r
			ex.StageResults[name] = &cp
		}
	}

	e.mu.Lock()
	e.executions[ex.ID] = ex
	snap := ex.snapshot()
	e.mu.Unlock()

	e.logEvent(ex.ID, "started", "", fmt.Sprintf("platform=%s stages=%d", platform, len(e.sequence)))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ex.ID)
	}()
	return snap
}

// run drives one execution to a terminal state. All mutations happen under
// the engine mutex so Status readers always see a consistent record.
func (e *Engine) run(id string) {
	e.update(id, func(ex *Execution) {
		ex.Status = StatusRunning
	})

	for _, name := range e.sequence {
		var content, platform string
		var skip bool
		e.withExecution(id, func(ex *Execution) {
			if _, done := ex.StageResults[name]; done {
				skip = true
				return
			}
			ex.CurrentStage = name
			ex.UpdatedAt = time.Now().UTC()
			content = ex.Content
			platform = ex.Platform
		})
		if skip {
			continue
		}

		e.logf("stage %s: invoking", name)
		ctx := context.Background()
		var cancel context.CancelFunc
		if e.stageTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		}
		start := time.Now()
		result, err := e.clients[name].Invoke(ctx, content, platform)
		elapsed := time.Since(start)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			e.logf("stage %s: failed: %v", name, err)
			e.logStageCall(id, name, false, elapsed.Milliseconds(), err.Error())
			e.logEvent(id, "stage_failed", name, err.Error())
			e.update(id, func(ex *Execution) {
				ex.FailedStages = append(ex.FailedStages, name)
				ex.StageErrors[name] = err.Error()
				ex.CurrentStage = ""
			})
			if e.failFast {
				e.finish(id, StatusFailed, fmt.Sprintf("stage %s failed: %v", name, err))
				return
			}
			continue
		}

		next, applied, skipped := applySuggestions(content, result.Suggestions)
		e.logf("stage %s: ok (%d suggestions applied, %d skipped)", name, applied, skipped)
		e.logStageCall(id, name, true, elapsed.Milliseconds(), "")
		e.logEvent(id, "stage_completed", name, fmt.Sprintf("applied=%d skipped=%d", applied, skipped))
		e.update(id, func(ex *Execution) {
			ex.Content = next
			ex.CurrentStage = ""
			ex.StageResults[name] = &StageResult{
				Stage:              name,
				Result:             result,
				DurationMs:         elapsed.Milliseconds(),
				SuggestionsApplied: applied,
				SuggestionsSkipped: skipped,
			}
		})
	}

	var succeeded, failed int
	e.withExecution(id, func(ex *Execution) {
		succeeded = len(ex.StageResults)
		failed = len(ex.FailedStages)
	})
	if succeeded > 0 {
		msg := ""
		if failed > 0 {
			msg = fmt.Sprintf("%d of %d stages failed", failed, len(e.sequence))
		}
		e.finish(id, StatusCompleted, msg)
		return
	}
	e.finish(id, StatusFailed, "all stages failed")
}

func (e *Engine) finish(id string, status Status, msg string) {
	e.update(id, func(ex *Execution) {
		ex.Status = status
		ex.ErrorMessage = msg
		ex.CurrentStage = ""
	})
	e.logEvent(id, string(status), "", msg)
	e.logf("execution %s: %s", id, status)
}

// Status returns a snapshot of the execution, or an error if unknown.
func (e *Engine) Status(id string) (*Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ex, ok := e.executions[id]
	if !ok {
		return nil, fmt.Errorf("unknown execution %q", id)
	}
	return ex.snapshot(), nil
}

// ListActive returns snapshots of all non-terminal executions, newest first.
func (e *Engine) ListActive() []*Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Execution
	for _, ex := range e.executions {
		if !ex.Status.Terminal() {
			out = append(out, ex.snapshot())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Resume starts a fresh execution that inherits the successful stage
// results of a terminal one and re-runs only the stages that failed or
// never ran. The original record is left untouched.
func (e *Engine) Resume(id string) (*Execution, error) {
	e.mu.RLock()
	prev, ok := e.executions[id]
	if !ok {
		e.mu.RUnlock()
		return nil, fmt.Errorf("unknown execution %q", id)
	}
	if !prev.Status.Terminal() {
		e.mu.RUnlock()
		return nil, fmt.Errorf("execution %q is still %s", id, prev.Status)
	}
	if len(prev.StageResults) == len(prev.StageSequence) {
		e.mu.RUnlock()
		return nil, fmt.Errorf("execution %q has nothing left to run", id)
	}
	inherit := prev.snapshot()
	e.mu.RUnlock()

	return e.start(inherit.Content, inherit.Platform, inherit), nil
}

// Evict removes a terminal execution from the registry.
func (e *Engine) Evict(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.executions[id]
	if !ok {
		return fmt.Errorf("unknown execution %q", id)
	}
	if !ex.Status.Terminal() {
		return fmt.Errorf("execution %q is still %s", id, ex.Status)
	}
	delete(e.executions, id)
	return nil
}

// Wait blocks until all background tasks have finished. Used by the CLI's
// one-shot mode and by tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) update(id string, fn func(*Execution)) {
	e.withExecution(id, func(ex *Execution) {
		fn(ex)
		ex.UpdatedAt = time.Now().UTC()
	})
}

func (e *Engine) withExecution(id string, fn func(*Execution)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ex, ok := e.executions[id]; ok {
		fn(ex)
	}
}

func (e *Engine) logEvent(flowID, event, stage, detail string) {
	if e.events == nil {
		return
	}
	_ = e.events.LogFlowEvent(flowID, event, stage, detail)
}

func (e *Engine) logStageCall(flowID, stage string, success bool, durationMs int64, callErr string) {
	if e.events == nil {
		return
	}
	_ = e.events.LogStageCall(flowID, stage, success, durationMs, callErr)
}

func (e *Engine) logf(format string, args ...any) {
	if e.progress == nil {
		return
	}
	fmt.Fprintf(e.progress, format+"\n", args...)
}
