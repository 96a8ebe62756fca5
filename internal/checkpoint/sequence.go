package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SequenceOutcome summarises how a checkpoint sequence ended.
type SequenceOutcome string

const (
	OutcomeRunning   SequenceOutcome = "running"
	OutcomeCompleted SequenceOutcome = "completed"
	OutcomeFailed    SequenceOutcome = "failed"
	OutcomeTimeout   SequenceOutcome = "timeout"
)

// Sequence runs the pre-writing, mid-writing and post-writing checkpoints
// back to back against one shared time budget.
type Sequence struct {
	ID            string           `json:"sequence_id"`
	Content       string           `json:"content"`
	Platform      string           `json:"platform,omitempty"`
	MaxTotalTime  time.Duration    `json:"-"`
	CheckpointIDs map[Label]string `json:"checkpoint_ids"`
	Outcome       SequenceOutcome  `json:"status"`
	Skipped       []Label          `json:"skipped,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

func (s *Sequence) clone() *Sequence {
	cp := *s
	cp.CheckpointIDs = make(map[Label]string, len(s.CheckpointIDs))
	for k, v := range s.CheckpointIDs {
		cp.CheckpointIDs[k] = v
	}
	cp.Skipped = append([]Label(nil), s.Skipped...)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// SequenceRunner drives checkpoint sequences in background tasks. Each
// sequence creates its three checkpoints in order, waiting for each one's
// worker call (or a finalizing intervention) before moving on.
type SequenceRunner struct {
	manager *Manager

	// FailFast stops a sequence at the first failed checkpoint instead
	// of continuing to the next label.
	FailFast bool

	// DefaultBudget applies when Start is given no explicit budget.
	// Zero means unbounded.
	DefaultBudget time.Duration

	mu        sync.RWMutex
	sequences map[string]*Sequence
	wg        sync.WaitGroup
}

// NewSequenceRunner wraps a checkpoint manager.
func NewSequenceRunner(manager *Manager) *SequenceRunner {
	return &SequenceRunner{
		manager:   manager,
		sequences: make(map[string]*Sequence),
	}
}

// Start begins a sequence over content with a total time budget for all
// three checkpoints together. A non-positive budget falls back to
// DefaultBudget; zero both ways means unbounded.
func (r *SequenceRunner) Start(content, platform string, maxTotalTime time.Duration) (*Sequence, error) {
	if maxTotalTime <= 0 {
		maxTotalTime = r.DefaultBudget
	}
	seq := &Sequence{
		ID:            uuid.NewString(),
		Content:       content,
		Platform:      platform,
		MaxTotalTime:  maxTotalTime,
		CheckpointIDs: make(map[Label]string, len(SequenceLabels)),
		Outcome:       OutcomeRunning,
		StartedAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	r.sequences[seq.ID] = seq
	snap := seq.clone()
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(seq.ID)
	}()
	return snap, nil
}

// Status returns a snapshot of the sequence.
func (r *SequenceRunner) Status(id string) (*Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seq, ok := r.sequences[id]
	if !ok {
		return nil, fmt.Errorf("unknown sequence %q", id)
	}
	return seq.clone(), nil
}

// Wait blocks until every running sequence has finished.
func (r *SequenceRunner) Wait() {
	r.wg.Wait()
}

func (r *SequenceRunner) run(id string) {
	r.mu.RLock()
	seq := r.sequences[id]
	content := seq.Content
	platform := seq.Platform
	budget := seq.MaxTotalTime
	r.mu.RUnlock()

	var deadline <-chan time.Time
	if budget > 0 {
		timer := time.NewTimer(budget)
		defer timer.Stop()
		deadline = timer.C
	}

	completed := 0
	remaining := SequenceLabels
	for i, label := range remaining {
		cp, err := r.manager.Create(CreateOpts{
			Label:      label,
			Content:    content,
			Platform:   platform,
			SequenceID: id,
		})
		if err != nil {
			r.finish(id, OutcomeFailed, remaining[i+1:])
			return
		}
		r.record(id, label, cp.ID)

		status, done := r.manager.await(cp.ID, deadline)
		if !done {
			// Budget exhausted: the in-flight checkpoint and everything
			// after it are skipped.
			_ = r.manager.skip(cp.ID, "sequence time budget exhausted")
			r.finish(id, OutcomeTimeout, remaining[i:])
			return
		}
		switch status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			if r.FailFast {
				r.finish(id, OutcomeFailed, remaining[i+1:])
				return
			}
		case StatusSkipped:
			r.finish(id, OutcomeTimeout, remaining[i:])
			return
		}
	}
	if completed > 0 {
		r.finish(id, OutcomeCompleted, nil)
		return
	}
	r.finish(id, OutcomeFailed, nil)
}

func (r *SequenceRunner) record(id string, label Label, checkpointID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq, ok := r.sequences[id]; ok {
		seq.CheckpointIDs[label] = checkpointID
	}
}

func (r *SequenceRunner) finish(id string, outcome SequenceOutcome, skipped []Label) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq, ok := r.sequences[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	seq.Outcome = outcome
	seq.Skipped = append([]Label(nil), skipped...)
	seq.FinishedAt = &now
}
