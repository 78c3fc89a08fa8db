package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message is an operator-visible integration message. Setup failures and
// unconfirmed teardown deletions are recorded here instead of crashing the
// process; the operator API lists them.
type Message struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Level       Level     `json:"level"`
	Text        string    `json:"text"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// MessageRepository is the persistence contract for integration messages.
//
// It MUST be append-only from the engine's side; operators may prune out
// of band.
type MessageRepository interface {
	Append(ctx context.Context, m Message) error
	List(ctx context.Context, workspaceID string) ([]Message, error)
}

// Messages records operator-visible integration messages.
// Callers should treat recording as best-effort: a failure to persist a
// message must never fail the operation being reported on.
type Messages struct {
	repo  MessageRepository
	clock func() time.Time
}

func NewMessages(repo MessageRepository) *Messages {
	return &Messages{repo: repo, clock: time.Now}
}

var ErrInvalidMessage = errors.New("integration: invalid message")

func (s *Messages) Append(ctx context.Context, m Message) error {
	if s.repo == nil {
		return errors.New("integration: message repository not configured")
	}
	if m.WorkspaceID == "" {
		return ErrInvalidMessage
	}
	if m.Text == "" {
		return ErrInvalidMessage
	}
	if m.Level == "" {
		m.Level = LevelInfo
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, m)
}

func (s *Messages) List(ctx context.Context, workspaceID string) ([]Message, error) {
	if s.repo == nil {
		return nil, errors.New("integration: message repository not configured")
	}
	if workspaceID == "" {
		return nil, ErrInvalidMessage
	}
	return s.repo.List(ctx, workspaceID)
}

// RecordSetupFailure is the convenience path used by the provisioner.
func (s *Messages) RecordSetupFailure(ctx context.Context, workspaceID, text, detail string) error {
	return s.Append(ctx, Message{
		WorkspaceID: workspaceID,
		Level:       LevelError,
		Text:        text,
		Detail:      detail,
	})
}
