package integration

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryConfigStore is an in-memory ConfigStore for tests.
type MemoryConfigStore struct {
	mu   sync.Mutex
	rows map[string][]byte // workspace_id -> JSON blob, mirrors the postgres shape

	clock func() time.Time
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{rows: map[string][]byte{}, clock: time.Now}
}

func (s *MemoryConfigStore) SetClock(clock func() time.Time) { s.clock = clock }

func (s *MemoryConfigStore) Get(ctx context.Context, workspaceID string) (Config, error) {
	if workspaceID == "" {
		return Config{}, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.rows[workspaceID]
	if !ok {
		return Config{}, ErrNotFound
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *MemoryConfigStore) Put(ctx context.Context, cfg Config) error {
	if cfg.WorkspaceID == "" {
		return ErrInvalidArgument
	}
	cfg.UpdatedAt = s.clock().UTC()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[cfg.WorkspaceID] = raw
	return nil
}

func (s *MemoryConfigStore) Delete(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, workspaceID)
	return nil
}
