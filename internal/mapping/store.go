package mapping

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("mapping: not found")
	ErrInvalidArgument = errors.New("mapping: invalid argument")
)

// Store is the single authoritative source of sync state. All idempotence
// decisions route through it. No cross-key transactions are required; each
// key's mapping is independently owned.
type Store interface {
	// Get returns the live mapping for key, or ErrNotFound.
	Get(ctx context.Context, workspaceID, key string) (Mapping, error)

	// Upsert creates or updates the mapping for key and returns the
	// resulting row. Metadata is merged key-wise, not replaced.
	Upsert(ctx context.Context, workspaceID, key string, p Patch) (Mapping, error)

	// Delete removes the mapping for key. Deleting a missing key is not
	// an error; the caller only cares that no live mapping remains.
	Delete(ctx context.Context, workspaceID, key string) error

	// ListByEntityType returns all live mappings of one entity type.
	ListByEntityType(ctx context.Context, workspaceID string, et EntityType) ([]Mapping, error)
}

// apply merges a patch into m in place. Shared by the memory and postgres
// implementations so both stores agree on patch semantics.
func (m *Mapping) apply(p Patch) {
	if p.CounterpartID != nil {
		m.CounterpartID = *p.CounterpartID
	}
	if p.EntityType != "" {
		m.EntityType = p.EntityType
	}
	if p.SyncMethod != "" {
		m.SyncMethod = p.SyncMethod
	}
	if p.LastAction != "" {
		m.LastAction = p.LastAction
	}
	if len(p.Metadata) > 0 {
		if m.Metadata == nil {
			m.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			m.Metadata[k] = v
		}
	}
}
