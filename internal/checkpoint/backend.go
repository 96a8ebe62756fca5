package checkpoint

import (
	"fmt"
	"sort"
	"sync"
)

// Backend persists checkpoint records. Implementations must be safe for
// concurrent use; Save replaces the whole record.
type Backend interface {
	Save(cp *Checkpoint) error
	Get(id string) (*Checkpoint, error)
	List() ([]*Checkpoint, error)
	Delete(id string) error
}

// NotFoundError is returned when a checkpoint id is unknown to a backend.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("checkpoint %s not found", e.ID)
}

// MemoryBackend keeps checkpoints in process memory. It is the default
// storage and the one tests use.
type MemoryBackend struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{checkpoints: make(map[string]*Checkpoint)}
}

func (b *MemoryBackend) Save(cp *Checkpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkpoints[cp.ID] = cp.clone()
	return nil
}

func (b *MemoryBackend) Get(id string) (*Checkpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cp, ok := b.checkpoints[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return cp.clone(), nil
}

func (b *MemoryBackend) List() ([]*Checkpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Checkpoint, 0, len(b.checkpoints))
	for _, cp := range b.checkpoints {
		out = append(out, cp.clone())
	}
	sortByCreation(out)
	return out, nil
}

func (b *MemoryBackend) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.checkpoints[id]; !ok {
		return &NotFoundError{ID: id}
	}
	delete(b.checkpoints, id)
	return nil
}

func sortByCreation(cps []*Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		if cps[i].CreatedAt.Equal(cps[j].CreatedAt) {
			return cps[i].ID < cps[j].ID
		}
		return cps[i].CreatedAt.Before(cps[j].CreatedAt)
	})
}
