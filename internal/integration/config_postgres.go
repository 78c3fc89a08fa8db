package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresConfigStore persists one JSONB row per integration:
//
//	CREATE TABLE integration_configs (
//	  workspace_id TEXT PRIMARY KEY,
//	  config       JSONB NOT NULL,
//	  updated_at   TIMESTAMPTZ NOT NULL
//	);
//
// A single-row JSONB upsert makes the bundle write atomic, which the
// provisioner depends on.
type PostgresConfigStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db, clock: time.Now}
}

func (s *PostgresConfigStore) Get(ctx context.Context, workspaceID string) (Config, error) {
	if workspaceID == "" {
		return Config{}, ErrInvalidArgument
	}
	const q = `SELECT config FROM integration_configs WHERE workspace_id = $1`
	var raw []byte
	if err := s.db.QueryRowContext(ctx, q, workspaceID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrNotFound
		}
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s *PostgresConfigStore) Put(ctx context.Context, cfg Config) error {
	if cfg.WorkspaceID == "" {
		return ErrInvalidArgument
	}
	cfg.UpdatedAt = s.clock().UTC()
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO integration_configs (workspace_id, config, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (workspace_id)
DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
`
	_, err = s.db.ExecContext(ctx, q, cfg.WorkspaceID, raw, cfg.UpdatedAt)
	return err
}

func (s *PostgresConfigStore) Delete(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return ErrInvalidArgument
	}
	const q = `DELETE FROM integration_configs WHERE workspace_id = $1`
	_, err := s.db.ExecContext(ctx, q, workspaceID)
	return err
}
