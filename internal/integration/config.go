package integration

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("integration: not found")
	ErrInvalidArgument = errors.New("integration: invalid argument")
)

// Subscription is one registered webhook subscription with an external
// service. Secret is the opaque delivery secret used for signature
// verification; it must never appear in logs.
type Subscription struct {
	ID          string    `json:"id"`
	Secret      string    `json:"secret,omitempty"`
	URL         string    `json:"url"`
	Events      []string  `json:"events,omitempty"`
	ResourceIDs []string  `json:"resource_ids,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Config is the persisted per-integration state: the full subscription
// bundle plus scoping and cached resource metadata.
//
// Bundle-of-N invariant: either all four subscriptions are present (the
// integration is configured) or the stored config reflects exactly which
// ones exist so crash recovery can clean them up. Provisioning persists
// the complete bundle in a single write.
type Config struct {
	WorkspaceID string `json:"workspace_id"`

	CRMSubscription         *Subscription `json:"crm_subscription,omitempty"`
	MessageSubscription     *Subscription `json:"message_subscription,omitempty"`
	CallSubscription        *Subscription `json:"call_subscription,omitempty"`
	CallSummarySubscription *Subscription `json:"call_summary_subscription,omitempty"`

	// EnabledResourceIDs scopes telephony subscriptions to a subset of
	// phone lines. Empty means all lines.
	EnabledResourceIDs []string `json:"enabled_resource_ids,omitempty"`

	// ResourceNumbers caches phone-number-id -> E.164 number for the
	// integration's own lines; the call pipeline uses it to exclude own
	// numbers from the external participant set.
	ResourceNumbers map[string]string `json:"resource_numbers,omitempty"`

	// ResourceNames caches phone-number-id -> display name.
	ResourceNames map[string]string `json:"resource_names,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Complete reports whether the full bundle is present.
func (c Config) Complete() bool {
	return c.CRMSubscription != nil &&
		c.MessageSubscription != nil &&
		c.CallSubscription != nil &&
		c.CallSummarySubscription != nil
}

// Partial reports whether some but not all subscriptions are recorded,
// the crash-recovery case the provisioner must clean up.
func (c Config) Partial() bool {
	n := len(c.Subscriptions())
	return n > 0 && !c.Complete()
}

// Subscriptions returns the recorded subscriptions in provisioning order.
func (c Config) Subscriptions() []*Subscription {
	out := make([]*Subscription, 0, 4)
	for _, s := range []*Subscription{
		c.CRMSubscription,
		c.MessageSubscription,
		c.CallSubscription,
		c.CallSummarySubscription,
	} {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// OwnNumbers returns the integration's own line numbers.
func (c Config) OwnNumbers() []string {
	out := make([]string, 0, len(c.ResourceNumbers))
	for _, n := range c.ResourceNumbers {
		out = append(out, n)
	}
	return out
}

// ConfigStore persists integration configuration. Put must replace the
// whole row atomically: the provisioner relies on a single write making
// the bundle durable all-or-nothing.
type ConfigStore interface {
	Get(ctx context.Context, workspaceID string) (Config, error)
	Put(ctx context.Context, cfg Config) error
	Delete(ctx context.Context, workspaceID string) error
}
