package engine

import (
	"time"

	"github.com/lucasnoah/stagecoach/internal/agent"
)

// Status is the lifecycle state of one execution.
// Transitions only move forward: pending → running → completed|failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StageResult records a successful stage call.
type StageResult struct {
	Stage              string        `json:"stage"`
	Result             *agent.Result `json:"result"`
	DurationMs         int64         `json:"duration_ms"`
	SuggestionsApplied int           `json:"suggestions_applied"`
	SuggestionsSkipped int           `json:"suggestions_skipped"`
}

// Execution is the record of one pipeline run. It is owned exclusively by
// its background task while running; Status returns defensive copies.
type Execution struct {
	ID            string                  `json:"execution_id"`
	Content       string                  `json:"content"` // working copy, mutated stage to stage
	Platform      string                  `json:"platform"`
	StageSequence []string                `json:"stage_sequence"`
	CurrentStage  string                  `json:"current_stage,omitempty"`
	StageResults  map[string]*StageResult `json:"stage_results"`
	FailedStages  []string                `json:"failed_stages"`
	StageErrors   map[string]string       `json:"stage_errors,omitempty"`
	Status        Status                  `json:"status"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	ResumedFrom   string                  `json:"resumed_from,omitempty"`
}

// Progress returns completion as a percentage of stages with results.
// It reports 100 only once the execution is terminal; a run whose last
// stage has finished but whose status has not flipped yet reads 99.
func (e *Execution) Progress() int {
	if len(e.StageSequence) == 0 {
		return 0
	}
	p := len(e.StageResults) * 100 / len(e.StageSequence)
	if p >= 100 && !e.Status.Terminal() {
		p = 99
	}
	return p
}

// snapshot returns a deep copy suitable for handing to concurrent readers.
func (e *Execution) snapshot() *Execution {
	cp := *e
	cp.StageSequence = append([]string(nil), e.StageSequence...)
	cp.FailedStages = append([]string(nil), e.FailedStages...)
	cp.StageResults = make(map[string]*StageResult, len(e.StageResults))
	for k, v := range e.StageResults {
		r := *v
		cp.StageResults[k] = &r
	}
	cp.StageErrors = make(map[string]string, len(e.StageErrors))
	for k, v := range e.StageErrors {
		cp.StageErrors[k] = v
	}
	return &cp
}
