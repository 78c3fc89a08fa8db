package integration

import (
	"context"
	"database/sql"
)

// PostgresMessageRepo persists integration messages:
//
//	CREATE TABLE integration_messages (
//	  id           TEXT PRIMARY KEY,
//	  workspace_id TEXT NOT NULL,
//	  level        TEXT NOT NULL,
//	  text         TEXT NOT NULL,
//	  detail       TEXT NOT NULL DEFAULT '',
//	  created_at   TIMESTAMPTZ NOT NULL
//	);
type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

func (r *PostgresMessageRepo) Append(ctx context.Context, m Message) error {
	const q = `
INSERT INTO integration_messages (id, workspace_id, level, text, detail, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := r.db.ExecContext(ctx, q, m.ID, m.WorkspaceID, m.Level, m.Text, m.Detail, m.CreatedAt)
	return err
}

func (r *PostgresMessageRepo) List(ctx context.Context, workspaceID string) ([]Message, error) {
	const q = `
SELECT id, workspace_id, level, text, detail, created_at
FROM integration_messages
WHERE workspace_id = $1
ORDER BY created_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.Level, &m.Text, &m.Detail, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
