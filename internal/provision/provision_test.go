package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"callsync/internal/crm"
	"callsync/internal/integration"
	"callsync/internal/telephony"
)

type fakeCRM struct {
	crm.Client

	created []string
	deleted []string

	createErr error
	deleteErr error
}

func (f *fakeCRM) CreateWebhook(ctx context.Context, req crm.WebhookRequest) (crm.Webhook, error) {
	if f.createErr != nil {
		return crm.Webhook{}, f.createErr
	}
	id := fmt.Sprintf("crm-wh-%d", len(f.created)+1)
	f.created = append(f.created, id)
	return crm.Webhook{ID: id, TargetURL: req.TargetURL}, nil
}

func (f *fakeCRM) DeleteWebhook(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeTel struct {
	telephony.Client

	created []string
	deleted []string

	// failAt makes the Nth telephony create fail (1-based). 0 disables.
	failAt int
	// blankKeyAt returns a webhook with no key at the Nth create.
	blankKeyAt int
	deleteErr  error

	numbers map[string]telephony.PhoneNumber
}

func (f *fakeTel) create(kind string) (telephony.Webhook, error) {
	n := len(f.created) + 1
	if f.failAt == n {
		return telephony.Webhook{}, errors.New("telephony create failed")
	}
	id := fmt.Sprintf("tel-wh-%s-%d", kind, n)
	f.created = append(f.created, id)
	if f.blankKeyAt == n {
		return telephony.Webhook{ID: id}, nil
	}
	return telephony.Webhook{ID: id, Key: "key-" + id}, nil
}

func (f *fakeTel) CreateMessageWebhook(ctx context.Context, url string, events, resourceIDs []string) (telephony.Webhook, error) {
	return f.create("msg")
}

func (f *fakeTel) CreateCallWebhook(ctx context.Context, url string, events, resourceIDs []string) (telephony.Webhook, error) {
	return f.create("call")
}

func (f *fakeTel) CreateCallSummaryWebhook(ctx context.Context, url string, events, resourceIDs []string) (telephony.Webhook, error) {
	return f.create("sum")
}

func (f *fakeTel) DeleteWebhook(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTel) GetPhoneNumber(ctx context.Context, id string) (telephony.PhoneNumber, error) {
	pn, ok := f.numbers[id]
	if !ok {
		return telephony.PhoneNumber{}, telephony.ErrNotFound
	}
	return pn, nil
}

func newProvisioner(t *testing.T) (*Provisioner, *fakeCRM, *fakeTel, *integration.MemoryConfigStore, *integration.MemoryMessageRepo) {
	t.Helper()
	fc := &fakeCRM{}
	ft := &fakeTel{numbers: map[string]telephony.PhoneNumber{
		"pn-1": {ID: "pn-1", Number: "+15550001111", Name: "Support"},
	}}
	store := integration.NewMemoryConfigStore()
	msgs := integration.NewMemoryMessageRepo()
	p := New(fc, ft, store, integration.NewMessages(msgs), "https://sync.example.com", slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.SetClock(func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) })
	return p, fc, ft, store, msgs
}

func TestEnsureProvisionsFullBundle(t *testing.T) {
	ctx := context.Background()
	p, fc, ft, store, _ := newProvisioner(t)

	status, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1", ResourceIDs: []string{"pn-1"}})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if status != StatusProvisioned {
		t.Fatalf("status = %q, want %q", status, StatusProvisioned)
	}
	if len(fc.created) != 1 || len(ft.created) != 3 {
		t.Fatalf("created crm=%d tel=%d, want 1 and 3", len(fc.created), len(ft.created))
	}

	cfg, err := store.Get(ctx, "ws-1")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if !cfg.Complete() {
		t.Fatalf("persisted config is not complete: %+v", cfg)
	}
	if cfg.MessageSubscription.Secret == "" {
		t.Fatalf("telephony subscription lost its delivery secret")
	}
	if cfg.CRMSubscription.URL != "https://sync.example.com/webhooks/crm?workspace_id=ws-1" {
		t.Fatalf("crm url = %q", cfg.CRMSubscription.URL)
	}
	if cfg.ResourceNumbers["pn-1"] != "+15550001111" {
		t.Fatalf("resource numbers not cached: %v", cfg.ResourceNumbers)
	}
}

func TestEnsureShortCircuitsWhenConfigured(t *testing.T) {
	ctx := context.Background()
	p, fc, ft, _, _ := newProvisioner(t)

	if _, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	crmCreates, telCreates := len(fc.created), len(ft.created)

	status, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if status != StatusAlreadyConfigured {
		t.Fatalf("status = %q, want %q", status, StatusAlreadyConfigured)
	}
	if len(fc.created) != crmCreates || len(ft.created) != telCreates {
		t.Fatalf("second ensure created new subscriptions")
	}
}

func TestEnsureUnwindsOnLateFailure(t *testing.T) {
	ctx := context.Background()
	p, fc, ft, store, msgs := newProvisioner(t)
	ft.failAt = 3 // the final telephony create

	_, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"})
	if err == nil {
		t.Fatalf("expected failure")
	}

	// Everything created this attempt must be gone: the crm webhook and
	// both successful telephony webhooks.
	if len(fc.deleted) != 1 || fc.deleted[0] != fc.created[0] {
		t.Fatalf("crm webhook not rolled back: created=%v deleted=%v", fc.created, fc.deleted)
	}
	if len(ft.deleted) != 2 {
		t.Fatalf("telephony rollback deleted %d, want 2: %v", len(ft.deleted), ft.deleted)
	}

	if _, err := store.Get(ctx, "ws-1"); !errors.Is(err, integration.ErrNotFound) {
		t.Fatalf("config must not be persisted after rollback, got %v", err)
	}

	recorded, _ := msgs.List(ctx, "ws-1")
	if len(recorded) != 1 || recorded[0].Level != integration.LevelError {
		t.Fatalf("expected one error message, got %+v", recorded)
	}
}

func TestEnsureRejectsWebhookWithoutSecret(t *testing.T) {
	ctx := context.Background()
	p, _, ft, store, _ := newProvisioner(t)
	ft.blankKeyAt = 2

	_, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"})
	if !errors.Is(err, ErrIncompleteWebhook) {
		t.Fatalf("expected ErrIncompleteWebhook, got %v", err)
	}
	// The keyless webhook itself is also deleted during rollback.
	if len(ft.deleted) != 2 {
		t.Fatalf("telephony rollback deleted %d, want 2: %v", len(ft.deleted), ft.deleted)
	}
	if _, err := store.Get(ctx, "ws-1"); !errors.Is(err, integration.ErrNotFound) {
		t.Fatalf("config must not be persisted, got %v", err)
	}
}

func TestEnsureCleansUpPartialBundle(t *testing.T) {
	ctx := context.Background()
	p, fc, ft, store, _ := newProvisioner(t)

	// A crash between creates and the store write leaves a partial row.
	if err := store.Put(ctx, integration.Config{
		WorkspaceID:     "ws-1",
		CRMSubscription: &integration.Subscription{ID: "stale-crm"},
		CallSubscription: &integration.Subscription{
			ID: "stale-call", Secret: "stale-key",
		},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	status, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if status != StatusProvisioned {
		t.Fatalf("status = %q, want %q", status, StatusProvisioned)
	}

	if len(fc.deleted) != 1 || fc.deleted[0] != "stale-crm" {
		t.Fatalf("stale crm webhook not cleaned up: %v", fc.deleted)
	}
	if len(ft.deleted) != 1 || ft.deleted[0] != "stale-call" {
		t.Fatalf("stale telephony webhook not cleaned up: %v", ft.deleted)
	}

	cfg, err := store.Get(ctx, "ws-1")
	if err != nil || !cfg.Complete() {
		t.Fatalf("expected complete config after re-provisioning: %+v err=%v", cfg, err)
	}
}

func TestTeardownDeletesEverything(t *testing.T) {
	ctx := context.Background()
	p, fc, ft, store, _ := newProvisioner(t)

	if _, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	status, err := p.Teardown(ctx, "ws-1")
	if err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if status != StatusDeactivated {
		t.Fatalf("status = %q, want %q", status, StatusDeactivated)
	}
	if len(fc.deleted) != 1 || len(ft.deleted) != 3 {
		t.Fatalf("deleted crm=%d tel=%d, want 1 and 3", len(fc.deleted), len(ft.deleted))
	}
	if _, err := store.Get(ctx, "ws-1"); !errors.Is(err, integration.ErrNotFound) {
		t.Fatalf("config row should be gone, got %v", err)
	}
}

func TestTeardownKeepsUnconfirmedDeletions(t *testing.T) {
	ctx := context.Background()
	p, _, ft, store, msgs := newProvisioner(t)

	if _, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	ft.deleteErr = errors.New("telephony unavailable")

	status, err := p.Teardown(ctx, "ws-1")
	if err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if status != StatusPartialTeardown {
		t.Fatalf("status = %q, want %q", status, StatusPartialTeardown)
	}

	cfg, err := store.Get(ctx, "ws-1")
	if err != nil {
		t.Fatalf("config row must survive partial teardown: %v", err)
	}
	if cfg.CRMSubscription != nil {
		t.Fatalf("confirmed crm deletion should be cleared")
	}
	if len(cfg.Subscriptions()) != 3 {
		t.Fatalf("unconfirmed telephony deletions must stay recorded, have %d", len(cfg.Subscriptions()))
	}

	recorded, _ := msgs.List(ctx, "ws-1")
	if len(recorded) != 1 || recorded[0].Level != integration.LevelWarn {
		t.Fatalf("expected one warn message, got %+v", recorded)
	}
}

func TestTeardownTreatsAlreadyGoneAsConfirmed(t *testing.T) {
	ctx := context.Background()
	p, fc, ft, store, _ := newProvisioner(t)

	if _, err := p.Ensure(ctx, Params{WorkspaceID: "ws-1"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	fc.deleteErr = crm.ErrNotFound
	ft.deleteErr = telephony.ErrNotFound

	status, err := p.Teardown(ctx, "ws-1")
	if err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if status != StatusDeactivated {
		t.Fatalf("status = %q, want %q", status, StatusDeactivated)
	}
	if _, err := store.Get(ctx, "ws-1"); !errors.Is(err, integration.ErrNotFound) {
		t.Fatalf("config row should be gone, got %v", err)
	}
}
