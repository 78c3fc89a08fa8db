// Package provision creates and tears down the webhook subscription
// bundle an integration needs on both services. Creation is atomic from
// the store's point of view: either every subscription exists and the
// bundle is persisted in one write, or every subscription created during
// the attempt is rolled back.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"callsync/internal/crm"
	"callsync/internal/integration"
	"callsync/internal/telephony"
)

type Status string

const (
	StatusAlreadyConfigured Status = "already_configured"
	StatusProvisioned       Status = "provisioned"
	StatusDeactivated       Status = "deactivated"
	StatusPartialTeardown   Status = "partial_teardown"
)

// CRM and telephony event sets the integration subscribes to.
var (
	crmEvents         = []string{"record.created", "record.updated", "record.deleted"}
	messageEvents     = []string{"message.received", "message.sent"}
	callEvents        = []string{"call.completed"}
	callSummaryEvents = []string{"call.summary.completed"}
)

var ErrIncompleteWebhook = errors.New("provision: webhook response missing id or key")

// Params scopes a provisioning attempt.
type Params struct {
	WorkspaceID string

	// ResourceIDs restricts telephony subscriptions to these phone lines.
	// Empty subscribes all lines.
	ResourceIDs []string
}

type Provisioner struct {
	crm      crm.Client
	tel      telephony.Client
	store    integration.ConfigStore
	messages *integration.Messages

	publicBaseURL string
	logger        *slog.Logger
	clock         func() time.Time
}

func New(crmClient crm.Client, telClient telephony.Client, store integration.ConfigStore, messages *integration.Messages, publicBaseURL string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		crm:           crmClient,
		tel:           telClient,
		store:         store,
		messages:      messages,
		publicBaseURL: publicBaseURL,
		logger:        logger,
		clock:         time.Now,
	}
}

func (p *Provisioner) SetClock(clock func() time.Time) { p.clock = clock }

// Ingress URLs carry the workspace so inbound deliveries can be routed
// to the right integration config before verification.
func (p *Provisioner) crmURL(workspaceID string) string {
	return p.publicBaseURL + "/webhooks/crm?workspace_id=" + url.QueryEscape(workspaceID)
}

func (p *Provisioner) telephonyURL(workspaceID string) string {
	return p.publicBaseURL + "/webhooks/telephony?workspace_id=" + url.QueryEscape(workspaceID)
}

// step is one reversible provisioning action already taken.
type step struct {
	desc string
	undo func(ctx context.Context) error
}

// Ensure brings the workspace to the fully-configured state.
//
// A complete recorded bundle short-circuits. A partial bundle, left by a
// crash between external creates and the store write, is torn down best
// effort before re-provisioning. Any failure during creation unwinds all
// subscriptions created in this attempt and returns the original error;
// the store is only written after every create succeeded.
func (p *Provisioner) Ensure(ctx context.Context, params Params) (Status, error) {
	if params.WorkspaceID == "" {
		return "", integration.ErrInvalidArgument
	}
	log := p.logger.With("workspace_id", params.WorkspaceID)

	existing, err := p.store.Get(ctx, params.WorkspaceID)
	switch {
	case err == nil:
		if existing.Complete() {
			return StatusAlreadyConfigured, nil
		}
		if existing.Partial() {
			log.Warn("found partial subscription bundle, cleaning up before re-provisioning")
			p.cleanupRecorded(ctx, log, existing)
		}
	case errors.Is(err, integration.ErrNotFound):
		// Fresh workspace.
	default:
		return "", err
	}

	cfg := integration.Config{
		WorkspaceID:        params.WorkspaceID,
		EnabledResourceIDs: params.ResourceIDs,
		ResourceNumbers:    map[string]string{},
		ResourceNames:      map[string]string{},
	}

	// Resource metadata is fetched before any create so a bad line id
	// fails the attempt with nothing to unwind.
	for _, id := range params.ResourceIDs {
		pn, err := p.tel.GetPhoneNumber(ctx, id)
		if err != nil {
			return "", fmt.Errorf("resolve phone line %s: %w", id, err)
		}
		cfg.ResourceNumbers[id] = pn.Number
		cfg.ResourceNames[id] = pn.Name
	}

	var steps []step
	fail := func(cause error) (Status, error) {
		p.unwind(ctx, log, steps)
		p.record(ctx, params.WorkspaceID, integration.LevelError,
			"webhook setup failed, all subscriptions from this attempt were rolled back", cause.Error())
		return "", cause
	}

	crmHook, err := p.crm.CreateWebhook(ctx, crm.WebhookRequest{
		TargetURL:     p.crmURL(params.WorkspaceID),
		Subscriptions: crmEvents,
	})
	if err != nil {
		return fail(fmt.Errorf("create crm webhook: %w", err))
	}
	steps = append(steps, step{
		desc: "crm webhook " + crmHook.ID,
		undo: func(ctx context.Context) error { return p.crm.DeleteWebhook(ctx, crmHook.ID) },
	})
	cfg.CRMSubscription = &integration.Subscription{
		ID:        crmHook.ID,
		URL:       p.crmURL(params.WorkspaceID),
		Events:    crmEvents,
		CreatedAt: p.clock().UTC(),
	}

	type telCreate struct {
		name   string
		events []string
		create func(ctx context.Context, url string, events, resourceIDs []string) (telephony.Webhook, error)
		slot   **integration.Subscription
	}
	creates := []telCreate{
		{"message", messageEvents, p.tel.CreateMessageWebhook, &cfg.MessageSubscription},
		{"call", callEvents, p.tel.CreateCallWebhook, &cfg.CallSubscription},
		{"call summary", callSummaryEvents, p.tel.CreateCallSummaryWebhook, &cfg.CallSummarySubscription},
	}
	for _, c := range creates {
		hook, err := c.create(ctx, p.telephonyURL(params.WorkspaceID), c.events, params.ResourceIDs)
		if err != nil {
			return fail(fmt.Errorf("create %s webhook: %w", c.name, err))
		}
		// The delivery secret is the only way to verify inbound payloads;
		// a response without one is unusable and must not survive.
		if hook.ID == "" || hook.Key == "" {
			steps = append(steps, step{
				desc: c.name + " webhook " + hook.ID,
				undo: func(ctx context.Context) error {
					if hook.ID == "" {
						return nil
					}
					return p.tel.DeleteWebhook(ctx, hook.ID)
				},
			})
			return fail(fmt.Errorf("%s webhook: %w", c.name, ErrIncompleteWebhook))
		}
		hookID := hook.ID
		steps = append(steps, step{
			desc: c.name + " webhook " + hookID,
			undo: func(ctx context.Context) error { return p.tel.DeleteWebhook(ctx, hookID) },
		})
		*c.slot = &integration.Subscription{
			ID:          hook.ID,
			Secret:      hook.Key,
			URL:         p.telephonyURL(params.WorkspaceID),
			Events:      c.events,
			ResourceIDs: params.ResourceIDs,
			CreatedAt:   p.clock().UTC(),
		}
	}

	if err := p.store.Put(ctx, cfg); err != nil {
		return fail(fmt.Errorf("persist subscription bundle: %w", err))
	}

	log.Info("integration provisioned",
		"crm_webhook_id", crmHook.ID,
		"resource_ids", len(params.ResourceIDs))
	return StatusProvisioned, nil
}

// Teardown deletes every recorded subscription. Deletions that cannot be
// confirmed stay recorded so a later attempt can retry them, and an
// operator message notes the leftover.
func (p *Provisioner) Teardown(ctx context.Context, workspaceID string) (Status, error) {
	if workspaceID == "" {
		return "", integration.ErrInvalidArgument
	}
	log := p.logger.With("workspace_id", workspaceID)

	cfg, err := p.store.Get(ctx, workspaceID)
	if errors.Is(err, integration.ErrNotFound) {
		return StatusDeactivated, nil
	}
	if err != nil {
		return "", err
	}

	leftover := p.deleteRecorded(ctx, log, &cfg)
	if leftover == 0 {
		if err := p.store.Delete(ctx, workspaceID); err != nil {
			return "", err
		}
		log.Info("integration deactivated")
		return StatusDeactivated, nil
	}

	if err := p.store.Put(ctx, cfg); err != nil {
		return "", err
	}
	p.record(ctx, workspaceID, integration.LevelWarn,
		"deactivation left subscriptions behind, they remain recorded for retry",
		fmt.Sprintf("%d subscription(s) could not be confirmed deleted", leftover))
	return StatusPartialTeardown, nil
}

// deleteRecorded deletes each recorded subscription, clearing the slots
// whose deletion was confirmed. It returns how many remain.
func (p *Provisioner) deleteRecorded(ctx context.Context, log *slog.Logger, cfg *integration.Config) int {
	del := func(slot **integration.Subscription, remove func(ctx context.Context, id string) error) {
		if *slot == nil {
			return
		}
		id := (*slot).ID
		if err := remove(ctx, id); err != nil && !isNotFound(err) {
			log.Error("failed to delete webhook subscription", "subscription_id", id, "error", err)
			return
		}
		*slot = nil
	}
	del(&cfg.CRMSubscription, p.crm.DeleteWebhook)
	del(&cfg.MessageSubscription, p.tel.DeleteWebhook)
	del(&cfg.CallSubscription, p.tel.DeleteWebhook)
	del(&cfg.CallSummarySubscription, p.tel.DeleteWebhook)
	return len(cfg.Subscriptions())
}

// cleanupRecorded is the best-effort pre-provisioning sweep of a partial
// bundle. Errors are logged and do not block re-provisioning.
func (p *Provisioner) cleanupRecorded(ctx context.Context, log *slog.Logger, cfg integration.Config) {
	p.deleteRecorded(ctx, log, &cfg)
}

func (p *Provisioner) unwind(ctx context.Context, log *slog.Logger, steps []step) {
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if err := s.undo(ctx); err != nil && !isNotFound(err) {
			log.Error("rollback step failed", "step", s.desc, "error", err)
		}
	}
}

func (p *Provisioner) record(ctx context.Context, workspaceID string, level integration.Level, text, detail string) {
	if p.messages == nil {
		return
	}
	err := p.messages.Append(ctx, integration.Message{
		WorkspaceID: workspaceID,
		Level:       level,
		Text:        text,
		Detail:      detail,
	})
	if err != nil {
		p.logger.Error("failed to record integration message", "workspace_id", workspaceID, "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, crm.ErrNotFound) || errors.Is(err, telephony.ErrNotFound)
}
