package contacts

import (
	"context"
	"errors"
	"strings"

	"callsync/internal/crm"
	"callsync/internal/integration"
	"callsync/internal/mapping"
	"callsync/pkg/logger"
)

// ErrContactNotFound means no eligible CRM record matched the phone number.
// Callers decide whether that drops the activity (typed result) or triggers
// contact auto-creation; it is never a retryable failure.
var ErrContactNotFound = errors.New("contacts: not found")

// PersonObjectType is the CRM object type holding phone-reachable records.
const PersonObjectType = "people"

// PhoneAttribute is the CRM attribute queried for exact phone matches.
const PhoneAttribute = "phone_numbers"

// NormalizePhone strips formatting (spaces, parentheses, hyphens, dots)
// so "+1 (555) 123-4567" and "+15551234567" match. A leading + survives;
// everything else non-digit is dropped.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolver maps a raw phone number to a CRM record id.
//
// Only records with a live person mapping are eligible: activity may only
// be logged against contacts previously synced from the CRM, never against
// records the integration does not own.
type Resolver struct {
	crm   crm.Client
	store mapping.Store
	types *integration.TypeCache
}

func NewResolver(crmClient crm.Client, store mapping.Store) *Resolver {
	return &Resolver{crm: crmClient, store: store}
}

// UseTypeCache routes person object-type resolution through the
// integration's cache instead of sending the well-known name as is. The
// id is fetched from the CRM once and memoized.
func (r *Resolver) UseTypeCache(tc *integration.TypeCache) { r.types = tc }

func (r *Resolver) personObject(ctx context.Context) (string, error) {
	if r.types == nil {
		return PersonObjectType, nil
	}
	return r.types.ObjectID(ctx, PersonObjectType, r.fetchObjectID)
}

func (r *Resolver) fetchObjectID(ctx context.Context, typeName string) (string, error) {
	obj, err := r.crm.GetObject(ctx, typeName)
	if err != nil {
		return "", err
	}
	return obj.ID, nil
}

func (r *Resolver) ResolveByPhone(ctx context.Context, workspaceID, phone string) (string, error) {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return "", ErrContactNotFound
	}

	objectType, err := r.personObject(ctx)
	if err != nil {
		return "", err
	}

	candidates, err := r.crm.QueryRecords(ctx, objectType, crm.Filter{
		Attribute: PhoneAttribute,
		Value:     normalized,
	})
	if err != nil {
		if !errors.Is(err, crm.ErrUnsupportedFilter) {
			return "", err
		}
		// The CRM may not index the phone attribute; fall back to
		// free-text search over the same normalized value.
		logger.From(ctx).Debug("phone filter unsupported, falling back to search", "phone", normalized)
		candidates, err = r.crm.SearchRecords(ctx, objectType, normalized)
		if err != nil {
			return "", err
		}
	}

	for _, cand := range candidates {
		if cand.ID == "" {
			continue
		}
		if _, err := r.store.Get(ctx, workspaceID, cand.ID); err != nil {
			if errors.Is(err, mapping.ErrNotFound) {
				continue
			}
			return "", err
		}
		return cand.ID, nil
	}
	return "", ErrContactNotFound
}
