package mapping

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Mapping // key: workspace_id|key

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]Mapping{}, clock: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func memKey(workspaceID, key string) string { return workspaceID + "|" + key }

func (s *MemoryStore) Get(ctx context.Context, workspaceID, key string) (Mapping, error) {
	if workspaceID == "" || key == "" {
		return Mapping{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[memKey(workspaceID, key)]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	return cloneMapping(m), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, workspaceID, key string, p Patch) (Mapping, error) {
	if workspaceID == "" || key == "" {
		return Mapping{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	k := memKey(workspaceID, key)
	m, ok := s.rows[k]
	if !ok {
		m = Mapping{WorkspaceID: workspaceID, Key: key, CreatedAt: now}
	}
	m.apply(p)
	m.LastSyncedAt = now
	m.UpdatedAt = now
	s.rows[k] = m
	return cloneMapping(m), nil
}

func (s *MemoryStore) Delete(ctx context.Context, workspaceID, key string) error {
	if workspaceID == "" || key == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, memKey(workspaceID, key))
	return nil
}

func (s *MemoryStore) ListByEntityType(ctx context.Context, workspaceID string, et EntityType) ([]Mapping, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mapping, 0)
	for _, m := range s.rows {
		if m.WorkspaceID != workspaceID {
			continue
		}
		if et != "" && m.EntityType != et {
			continue
		}
		out = append(out, cloneMapping(m))
	}
	return out, nil
}

func cloneMapping(m Mapping) Mapping {
	out := m
	if m.Metadata != nil {
		out.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
