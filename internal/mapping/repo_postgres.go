package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"callsync/pkg/utils"
)

// PostgresStore persists mappings in a single table:
//
//   CREATE TABLE identity_mappings (
//     workspace_id   TEXT NOT NULL,
//     key            TEXT NOT NULL,
//     counterpart_id TEXT NOT NULL DEFAULT '',
//     entity_type    TEXT NOT NULL,
//     sync_method    TEXT NOT NULL,
//     last_action    TEXT NOT NULL,
//     last_synced_at TIMESTAMPTZ NOT NULL,
//     metadata       JSONB NOT NULL DEFAULT '{}',
//     created_at     TIMESTAMPTZ NOT NULL,
//     updated_at     TIMESTAMPTZ NOT NULL,
//     PRIMARY KEY (workspace_id, key)
//   );
//
// The primary key enforces the at-most-one-live-mapping invariant.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Get(ctx context.Context, workspaceID, key string) (Mapping, error) {
	if workspaceID == "" || key == "" {
		return Mapping{}, ErrInvalidArgument
	}
	const q = `
SELECT workspace_id, key, counterpart_id, entity_type, sync_method, last_action,
       last_synced_at, metadata, created_at, updated_at
FROM identity_mappings
WHERE workspace_id = $1 AND key = $2
`
	return scanMapping(s.db.QueryRowContext(ctx, q, workspaceID, key))
}

// Upsert runs read-merge-write inside a transaction so concurrent patches to
// the same key cannot drop each other's metadata. Contention per key is rare;
// the queue layer serializes handlers per entity key.
func (s *PostgresStore) Upsert(ctx context.Context, workspaceID, key string, p Patch) (Mapping, error) {
	if workspaceID == "" || key == "" {
		return Mapping{}, ErrInvalidArgument
	}

	var out Mapping
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `
SELECT workspace_id, key, counterpart_id, entity_type, sync_method, last_action,
       last_synced_at, metadata, created_at, updated_at
FROM identity_mappings
WHERE workspace_id = $1 AND key = $2
FOR UPDATE
`
		now := s.clock().UTC()
		m, err := scanMapping(tx.QueryRowContext(ctx, sel, workspaceID, key))
		if errors.Is(err, ErrNotFound) {
			m = Mapping{WorkspaceID: workspaceID, Key: key, CreatedAt: now}
		} else if err != nil {
			return err
		}

		m.apply(p)
		m.LastSyncedAt = now
		m.UpdatedAt = now

		meta, err := json.Marshal(metaOrEmpty(m.Metadata))
		if err != nil {
			return err
		}

		const up = `
INSERT INTO identity_mappings (
  workspace_id, key, counterpart_id, entity_type, sync_method, last_action,
  last_synced_at, metadata, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (workspace_id, key)
DO UPDATE SET counterpart_id = EXCLUDED.counterpart_id,
              entity_type    = EXCLUDED.entity_type,
              sync_method    = EXCLUDED.sync_method,
              last_action    = EXCLUDED.last_action,
              last_synced_at = EXCLUDED.last_synced_at,
              metadata       = EXCLUDED.metadata,
              updated_at     = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, up,
			m.WorkspaceID,
			m.Key,
			m.CounterpartID,
			m.EntityType,
			m.SyncMethod,
			m.LastAction,
			m.LastSyncedAt,
			meta,
			m.CreatedAt,
			m.UpdatedAt,
		); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return Mapping{}, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, workspaceID, key string) error {
	if workspaceID == "" || key == "" {
		return ErrInvalidArgument
	}
	const q = `DELETE FROM identity_mappings WHERE workspace_id = $1 AND key = $2`
	_, err := s.db.ExecContext(ctx, q, workspaceID, key)
	return err
}

func (s *PostgresStore) ListByEntityType(ctx context.Context, workspaceID string, et EntityType) ([]Mapping, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	const q = `
SELECT workspace_id, key, counterpart_id, entity_type, sync_method, last_action,
       last_synced_at, metadata, created_at, updated_at
FROM identity_mappings
WHERE workspace_id = $1 AND ($2 = '' OR entity_type = $2)
ORDER BY updated_at DESC
`
	rows, err := s.db.QueryContext(ctx, q, workspaceID, string(et))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Mapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(r rowScanner) (Mapping, error) {
	var m Mapping
	var meta []byte
	err := r.Scan(
		&m.WorkspaceID,
		&m.Key,
		&m.CounterpartID,
		&m.EntityType,
		&m.SyncMethod,
		&m.LastAction,
		&m.LastSyncedAt,
		&meta,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Mapping{}, ErrNotFound
		}
		return Mapping{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return Mapping{}, err
		}
	}
	return m, nil
}

func metaOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
