package checkpoint

import (
	"time"

	"github.com/lucasnoah/stagecoach/internal/agent"
)

// Label identifies where in the pipeline a checkpoint sits.
type Label string

const (
	LabelPreWriting  Label = "pre-writing"
	LabelMidWriting  Label = "mid-writing"
	LabelPostWriting Label = "post-writing"
)

// SequenceLabels is the canonical order checkpoints run in a sequence.
var SequenceLabels = []Label{LabelPreWriting, LabelMidWriting, LabelPostWriting}

// ValidLabel reports whether l is a known checkpoint label.
func ValidLabel(l Label) bool {
	switch l {
	case LabelPreWriting, LabelMidWriting, LabelPostWriting:
		return true
	}
	return false
}

// Status is the lifecycle state of a checkpoint. A checkpoint is running
// while its worker call is in flight and lands on completed or failed
// when the call returns; skipped marks checkpoints abandoned when a
// sequence's time budget ran out.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the checkpoint has left the running state.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Event records one transition in a checkpoint's history.
type Event struct {
	Type   string    `json:"type"` // created, validated, failed, intervened, skipped
	Actor  string    `json:"actor,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Checkpoint is a named, inspectable pause point. The worker call behind it
// runs asynchronously; Result and Error record the automatic outcome, and a
// finalizing intervention can supersede that outcome exactly once.
type Checkpoint struct {
	ID          string        `json:"checkpoint_id"`
	Label       Label         `json:"label"`
	Stage       string        `json:"stage,omitempty"`
	Platform    string        `json:"platform,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	SequenceID  string        `json:"sequence_id,omitempty"`
	Content     string        `json:"content"`
	Result      *agent.Result `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	Status      Status        `json:"status"`
	Feedback    string        `json:"feedback,omitempty"`
	Finalized   bool          `json:"finalized,omitempty"`
	FinalizedBy string        `json:"finalized_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	Events      []Event       `json:"events"`
}

func (c *Checkpoint) clone() *Checkpoint {
	cp := *c
	cp.Events = append([]Event(nil), c.Events...)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
