package mapping

import (
	"context"
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestMemoryStore_UpsertCreatesThenMerges(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	s.SetClock(func() time.Time { return now })
	ctx := context.Background()

	m, err := s.Upsert(ctx, "w1", "call_1", Patch{
		EntityType: EntityCall,
		SyncMethod: SyncMethodWebhook,
		LastAction: ActionCreated,
		Metadata:   map[string]string{MetaNoteID: "n1"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.Key != "call_1" || m.EntityType != EntityCall {
		t.Fatalf("unexpected mapping: %+v", m)
	}
	if m.CreatedAt != now || m.LastSyncedAt != now {
		t.Fatalf("expected timestamps from clock")
	}

	later := now.Add(time.Minute)
	s.SetClock(func() time.Time { return later })
	m2, err := s.Upsert(ctx, "w1", "call_1", Patch{
		LastAction: ActionUpdated,
		Metadata:   map[string]string{MetaPhoneNumber: "+15551234567"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m2.CreatedAt != now {
		t.Fatalf("created_at must not move on update")
	}
	if m2.LastSyncedAt != later {
		t.Fatalf("last_synced_at must advance")
	}
	if m2.Metadata[MetaNoteID] != "n1" || m2.Metadata[MetaPhoneNumber] != "+15551234567" {
		t.Fatalf("metadata must merge, got %+v", m2.Metadata)
	}
	if m2.EntityType != EntityCall {
		t.Fatalf("entity type must survive an empty patch field")
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "w1", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CounterpartIDPatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Upsert(ctx, "w1", "p1", Patch{EntityType: EntityPerson, LastAction: ActionCreated})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	m, err := s.Upsert(ctx, "w1", "p1", Patch{CounterpartID: strPtr("crm_9"), LastAction: ActionUpdated})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.CounterpartID != "crm_9" {
		t.Fatalf("expected counterpart set, got %q", m.CounterpartID)
	}

	// nil pointer leaves it alone
	m, err = s.Upsert(ctx, "w1", "p1", Patch{LastAction: ActionUpdated})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.CounterpartID != "crm_9" {
		t.Fatalf("nil CounterpartID patch must not clear the field")
	}
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "w1", "p1", Patch{EntityType: EntityPerson, LastAction: ActionCreated}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := s.Delete(ctx, "w1", "p1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := s.Delete(ctx, "w1", "p1"); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, "w1", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete")
	}
}

func TestMemoryStore_ListByEntityType(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seed := []struct {
		ws  string
		key string
		et  EntityType
	}{
		{"w1", "p1", EntityPerson},
		{"w1", "c1", EntityCall},
		{"w1", "m1", EntityMessage},
		{"w2", "p2", EntityPerson},
	}
	for _, row := range seed {
		if _, err := s.Upsert(ctx, row.ws, row.key, Patch{EntityType: row.et, LastAction: ActionCreated}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}

	people, err := s.ListByEntityType(ctx, "w1", EntityPerson)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(people) != 1 || people[0].Key != "p1" {
		t.Fatalf("expected only w1 person mappings, got %+v", people)
	}

	all, err := s.ListByEntityType(ctx, "w1", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 w1 mappings, got %d", len(all))
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Upsert(ctx, "w1", "c1", Patch{
		EntityType: EntityCall,
		LastAction: ActionCreated,
		Metadata:   map[string]string{MetaNoteID: "n1"},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, _ := s.Get(ctx, "w1", "c1")
	got.Metadata[MetaNoteID] = "mutated"

	again, _ := s.Get(ctx, "w1", "c1")
	if again.Metadata[MetaNoteID] != "n1" {
		t.Fatalf("store must not share metadata maps with callers")
	}
}
