// Package reporting summarizes sync state for the operator API.
package reporting

import (
	"context"
	"errors"
	"time"

	"callsync/internal/mapping"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// SyncSummary aggregates the identity-mapping store for one workspace.
type SyncSummary struct {
	WorkspaceID string `json:"workspace_id"`
	Total       int    `json:"total"`

	ByEntityType map[mapping.EntityType]int `json:"by_entity_type"`
	BySyncMethod map[mapping.SyncMethod]int `json:"by_sync_method"`
	ByLastAction map[mapping.Action]int     `json:"by_last_action"`

	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

type Service struct {
	store mapping.Store
}

func NewService(store mapping.Store) *Service {
	return &Service{store: store}
}

func (s *Service) SyncSummary(ctx context.Context, workspaceID string) (SyncSummary, error) {
	if workspaceID == "" {
		return SyncSummary{}, ErrInvalidRequest
	}

	out := SyncSummary{
		WorkspaceID:  workspaceID,
		ByEntityType: map[mapping.EntityType]int{},
		BySyncMethod: map[mapping.SyncMethod]int{},
		ByLastAction: map[mapping.Action]int{},
	}
	for _, et := range []mapping.EntityType{mapping.EntityPerson, mapping.EntityCall, mapping.EntityMessage} {
		rows, err := s.store.ListByEntityType(ctx, workspaceID, et)
		if err != nil {
			return SyncSummary{}, err
		}
		for _, m := range rows {
			out.Total++
			out.ByEntityType[m.EntityType]++
			out.BySyncMethod[m.SyncMethod]++
			out.ByLastAction[m.LastAction]++
			if !m.LastSyncedAt.IsZero() && (out.LastSyncedAt == nil || m.LastSyncedAt.After(*out.LastSyncedAt)) {
				t := m.LastSyncedAt
				out.LastSyncedAt = &t
			}
		}
	}
	return out, nil
}
