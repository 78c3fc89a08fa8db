package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"callsync/internal/mapping"
)

func TestSyncSummary(t *testing.T) {
	ctx := context.Background()
	store := mapping.NewMemoryStore()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	i := 0
	store.SetClock(func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Minute)
	})

	seed := []struct {
		key string
		et  mapping.EntityType
		sm  mapping.SyncMethod
		act mapping.Action
	}{
		{"rec-1", mapping.EntityPerson, mapping.SyncMethodBackfill, mapping.ActionCreated},
		{"rec-2", mapping.EntityPerson, mapping.SyncMethodWebhook, mapping.ActionUpdated},
		{"call-1", mapping.EntityCall, mapping.SyncMethodWebhook, mapping.ActionCreated},
		{"msg-1", mapping.EntityMessage, mapping.SyncMethodWebhook, mapping.ActionConflictResolved},
	}
	for _, s := range seed {
		if _, err := store.Upsert(ctx, "ws-1", s.key, mapping.Patch{
			EntityType: s.et, SyncMethod: s.sm, LastAction: s.act,
		}); err != nil {
			t.Fatalf("seed %s: %v", s.key, err)
		}
	}
	// Another workspace must not leak into the summary.
	if _, err := store.Upsert(ctx, "ws-2", "rec-9", mapping.Patch{
		EntityType: mapping.EntityPerson, SyncMethod: mapping.SyncMethodWebhook, LastAction: mapping.ActionCreated,
	}); err != nil {
		t.Fatalf("seed other ws: %v", err)
	}

	svc := NewService(store)
	sum, err := svc.SyncSummary(ctx, "ws-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 4 {
		t.Fatalf("total = %d, want 4", sum.Total)
	}
	if sum.ByEntityType[mapping.EntityPerson] != 2 || sum.ByEntityType[mapping.EntityCall] != 1 {
		t.Fatalf("by entity type: %v", sum.ByEntityType)
	}
	if sum.BySyncMethod[mapping.SyncMethodBackfill] != 1 || sum.BySyncMethod[mapping.SyncMethodWebhook] != 3 {
		t.Fatalf("by sync method: %v", sum.BySyncMethod)
	}
	if sum.ByLastAction[mapping.ActionConflictResolved] != 1 {
		t.Fatalf("by last action: %v", sum.ByLastAction)
	}
	if sum.LastSyncedAt == nil || !sum.LastSyncedAt.After(base) {
		t.Fatalf("last synced at: %v", sum.LastSyncedAt)
	}
}

func TestSyncSummaryRejectsEmptyWorkspace(t *testing.T) {
	svc := NewService(mapping.NewMemoryStore())
	if _, err := svc.SyncSummary(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
