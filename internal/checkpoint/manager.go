package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/stagecoach/internal/agent"
)

// Invoker is the slice of a stage client the manager needs to run a
// checkpoint's worker call. *agent.Client satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, content, platform string) (*agent.Result, error)
}

// ManagerOpts configures a Manager.
type ManagerOpts struct {
	// Backend persists checkpoints. Nil uses an in-memory backend.
	Backend Backend
	// Invokers maps each checkpoint label to the stage client that runs
	// its worker call. A label without an invoker cannot be created.
	Invokers map[Label]Invoker
	// CallTimeout bounds each worker call. Zero means no bound.
	CallTimeout time.Duration
}

// Manager coordinates checkpoint lifecycle on top of a Backend. Creating a
// checkpoint launches its worker call as a background task; interventions
// and worker completions are serialized through the manager mutex so they
// cannot race on the same record.
type Manager struct {
	backend     Backend
	invokers    map[Label]Invoker
	callTimeout time.Duration

	mu      sync.Mutex
	waiters map[string][]chan Status
	wg      sync.WaitGroup

	now func() time.Time
}

// NewManager builds a manager. A nil Backend falls back to memory.
func NewManager(opts ManagerOpts) *Manager {
	backend := opts.Backend
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Manager{
		backend:     backend,
		invokers:    opts.Invokers,
		callTimeout: opts.CallTimeout,
		waiters:     make(map[string][]chan Status),
		now:         time.Now,
	}
}

// CreateOpts describes a new checkpoint.
type CreateOpts struct {
	Label      Label
	Stage      string
	Platform   string
	Notes      string
	Content    string
	SequenceID string
}

// Create registers a running checkpoint, persists it, and starts the
// underlying worker call in the background. The returned snapshot has
// status running; the background task flips it to completed or failed.
func (m *Manager) Create(opts CreateOpts) (*Checkpoint, error) {
	if !ValidLabel(opts.Label) {
		return nil, fmt.Errorf("unknown checkpoint label %q", opts.Label)
	}
	inv, ok := m.invokers[opts.Label]
	if !ok {
		return nil, fmt.Errorf("no worker configured for checkpoint %q", opts.Label)
	}

	now := m.now().UTC()
	cp := &Checkpoint{
		ID:         uuid.NewString(),
		Label:      opts.Label,
		Stage:      opts.Stage,
		Platform:   opts.Platform,
		Notes:      opts.Notes,
		SequenceID: opts.SequenceID,
		Content:    opts.Content,
		Status:     StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
		Events: []Event{
			{Type: "created", Detail: string(opts.Label), At: now},
		},
	}
	if err := m.backend.Save(cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runWorker(cp.ID, inv, opts.Content, opts.Platform)
	}()
	return cp, nil
}

// runWorker performs the checkpoint's stage call and records the outcome.
// A checkpoint finalized or skipped while the call was in flight keeps its
// forced state; the automatic result is dropped.
func (m *Manager) runWorker(id string, inv Invoker, content, platform string) {
	ctx := context.Background()
	if m.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
	}
	result, err := inv.Invoke(ctx, content, platform)

	m.mu.Lock()
	defer m.mu.Unlock()

	cp, gerr := m.backend.Get(id)
	if gerr != nil || cp.Status != StatusRunning {
		return
	}
	now := m.now().UTC()
	if err != nil {
		cp.Status = StatusFailed
		cp.Error = err.Error()
		cp.Events = append(cp.Events, Event{Type: "failed", Detail: err.Error(), At: now})
	} else {
		cp.Status = StatusCompleted
		cp.Result = result
		cp.Events = append(cp.Events, Event{
			Type:   "validated",
			Detail: fmt.Sprintf("%d rules applied", result.RuleCount),
			At:     now,
		})
	}
	cp.UpdatedAt = now
	cp.ResolvedAt = &now
	if err := m.backend.Save(cp); err != nil {
		return
	}
	m.notify(id, cp.Status)
}

// Get returns the checkpoint with the given id.
func (m *Manager) Get(id string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.Get(id)
}

// History returns the event trail for a checkpoint.
func (m *Manager) History(id string) ([]Event, error) {
	cp, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return cp.Events, nil
}

// List returns all checkpoints, oldest first.
func (m *Manager) List() ([]*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backend.List()
}

// ListActive returns checkpoints whose worker call is still in flight.
func (m *Manager) ListActive() ([]*Checkpoint, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}
	var out []*Checkpoint
	for _, cp := range all {
		if cp.Status == StatusRunning {
			out = append(out, cp)
		}
	}
	return out, nil
}

// InterveneOpts describes a human intervention on a checkpoint.
type InterveneOpts struct {
	// Input is the reviewer's text. With Finalize it stands in for the
	// automatic result; without it the input is recorded as feedback.
	Input string
	// Finalize forces the checkpoint to completed, superseding whatever
	// the worker call produced or will produce.
	Finalize bool
	Actor    string
}

// Intervene applies a human intervention. Without Finalize it appends the
// input to the history and leaves the status alone; the checkpoint stays
// intervenable in every state. With Finalize it forces the checkpoint to
// completed exactly once; finalizing an already-finalized checkpoint is an
// error and the original verdict stands.
func (m *Manager) Intervene(id string, opts InterveneOpts) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.backend.Get(id)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if !opts.Finalize {
		cp.Feedback = opts.Input
		cp.UpdatedAt = now
		cp.Events = append(cp.Events, Event{
			Type:   "intervened",
			Actor:  opts.Actor,
			Detail: opts.Input,
			At:     now,
		})
		if err := m.backend.Save(cp); err != nil {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
		return cp, nil
	}

	if cp.Finalized {
		return nil, fmt.Errorf("checkpoint %s already finalized", id)
	}
	wasRunning := cp.Status == StatusRunning
	cp.Status = StatusCompleted
	cp.Feedback = opts.Input
	cp.Finalized = true
	cp.FinalizedBy = opts.Actor
	cp.UpdatedAt = now
	cp.ResolvedAt = &now
	cp.Events = append(cp.Events, Event{
		Type:   "intervened",
		Actor:  opts.Actor,
		Detail: "finalized",
		At:     now,
	})
	if err := m.backend.Save(cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	if wasRunning {
		m.notify(id, StatusCompleted)
	}
	return cp, nil
}

// skip marks a running checkpoint skipped, typically because its sequence
// ran out of time. Terminal checkpoints are left alone.
func (m *Manager) skip(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, err := m.backend.Get(id)
	if err != nil {
		return err
	}
	if cp.Status.Terminal() {
		return nil
	}
	now := m.now().UTC()
	cp.Status = StatusSkipped
	cp.UpdatedAt = now
	cp.ResolvedAt = &now
	cp.Events = append(cp.Events, Event{Type: "skipped", Detail: reason, At: now})
	if err := m.backend.Save(cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	m.notify(id, StatusSkipped)
	return nil
}

// await blocks until the checkpoint reaches a terminal status or the
// deadline channel fires. It returns the status observed and whether the
// checkpoint finished in time.
func (m *Manager) await(id string, deadline <-chan time.Time) (Status, bool) {
	m.mu.Lock()
	cp, err := m.backend.Get(id)
	if err != nil {
		m.mu.Unlock()
		return "", false
	}
	if cp.Status.Terminal() {
		m.mu.Unlock()
		return cp.Status, true
	}
	ch := make(chan Status, 1)
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()

	select {
	case status := <-ch:
		return status, true
	case <-deadline:
		return StatusRunning, false
	}
}

// Wait blocks until every in-flight worker call has finished. Used by
// tests and graceful shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// notify wakes any await callers. Caller holds m.mu.
func (m *Manager) notify(id string, status Status) {
	for _, ch := range m.waiters[id] {
		ch <- status
	}
	delete(m.waiters, id)
}
