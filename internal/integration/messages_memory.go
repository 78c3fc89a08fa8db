package integration

import (
	"context"
	"sync"
)

// MemoryMessageRepo is a simple in-memory message repository for tests.
type MemoryMessageRepo struct {
	mu   sync.Mutex
	rows []Message
}

func NewMemoryMessageRepo() *MemoryMessageRepo { return &MemoryMessageRepo{} }

func (r *MemoryMessageRepo) Append(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, m)
	return nil
}

func (r *MemoryMessageRepo) List(ctx context.Context, workspaceID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range r.rows {
		if m.WorkspaceID == workspaceID {
			out = append(out, m)
		}
	}
	return out, nil
}
