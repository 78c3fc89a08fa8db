package mapping

import "time"

// Mapping is the persisted correspondence between an id in one external
// system and its counterpart/state in the other.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
//
// Idempotence invariant: at most one live mapping per (workspace_id, key).
// For calls and messages the presence of a mapping is the sole signal that
// the event was already applied downstream; a second event with the same
// key must not create a second note.
type Mapping struct {
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	// Key is the driving external id: a CRM record id, a call id, or a
	// message id.
	Key string `json:"key" db:"key"`

	// CounterpartID is the id in the other system. Empty until resolved.
	CounterpartID string `json:"counterpart_id,omitempty" db:"counterpart_id"`

	EntityType EntityType `json:"entity_type" db:"entity_type"`
	SyncMethod SyncMethod `json:"sync_method" db:"sync_method"`
	LastAction Action     `json:"last_action" db:"last_action"`

	LastSyncedAt time.Time `json:"last_synced_at" db:"last_synced_at"`

	// Metadata holds free-form sync detail such as note_id, phone_number
	// or call_id. Stored as JSONB.
	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type EntityType string

const (
	EntityPerson  EntityType = "person"
	EntityCall    EntityType = "call"
	EntityMessage EntityType = "message"
)

type SyncMethod string

const (
	SyncMethodWebhook  SyncMethod = "webhook"
	SyncMethodBackfill SyncMethod = "backfill"
)

type Action string

const (
	ActionCreated          Action = "created"
	ActionUpdated          Action = "updated"
	ActionDeleted          Action = "deleted"
	ActionConflictResolved Action = "conflict_resolved"
)

// Patch is a partial mapping write. Nil fields are left untouched on an
// existing row; on first write zero values apply.
type Patch struct {
	CounterpartID *string
	EntityType    EntityType
	SyncMethod    SyncMethod
	LastAction    Action
	Metadata      map[string]string
}

// MetaNoteID and friends are the metadata keys the pipeline relies on.
const (
	MetaNoteID      = "note_id"
	MetaPhoneNumber = "phone_number"
	MetaCallID      = "call_id"
)
