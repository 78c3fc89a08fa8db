package events

import (
	"context"
	"errors"

	"callsync/internal/contacts"
	"callsync/internal/crm"
	"callsync/internal/mapping"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
)

// RecordHandler pushes CRM person changes into the telephony address book
// and keeps the person mapping current.
type RecordHandler struct {
	crm   crm.Client
	tel   telephony.Client
	store mapping.Store
}

func NewRecordHandler(crmClient crm.Client, tel telephony.Client, store mapping.Store) *RecordHandler {
	return &RecordHandler{crm: crmClient, tel: tel, store: store}
}

func (h *RecordHandler) Handle(ctx context.Context, workspaceID string, kind Kind, ev crm.Event) (Result, error) {
	log := logger.From(ctx).With("record_id", ev.ID.RecordID)

	if ev.ID.RecordID == "" {
		return skipped("empty record id"), nil
	}

	switch kind {
	case KindRecordDeleted:
		// The mapping is the sync state; dropping it stops activity from
		// being logged against the deleted record.
		if err := h.store.Delete(ctx, workspaceID, ev.ID.RecordID); err != nil {
			return Result{}, err
		}
		log.Info("person mapping removed")
		return Result{Logged: true}, nil

	case KindRecordCreated, KindRecordUpdated:
		return h.upsert(ctx, workspaceID, kind, ev.ID.RecordID)

	default:
		return skipped("unhandled record event"), nil
	}
}

func (h *RecordHandler) upsert(ctx context.Context, workspaceID string, kind Kind, recordID string) (Result, error) {
	log := logger.From(ctx).With("record_id", recordID)

	rec, err := h.crm.GetRecord(ctx, contacts.PersonObjectType, recordID)
	if errors.Is(err, crm.ErrNotFound) {
		// Deleted between the event and now.
		return skipped("record no longer exists"), nil
	}
	if err != nil {
		return Result{}, err
	}

	req := contactRequest(rec)
	contact, err := h.syncContact(ctx, recordID, req)
	if err != nil {
		return Result{}, err
	}

	action := mapping.ActionCreated
	if kind == KindRecordUpdated {
		action = mapping.ActionUpdated
	}
	meta := map[string]string{}
	if len(req.Phones) > 0 {
		meta[mapping.MetaPhoneNumber] = req.Phones[0]
	}
	_, err = h.store.Upsert(ctx, workspaceID, recordID, mapping.Patch{
		CounterpartID: &contact.ID,
		EntityType:    mapping.EntityPerson,
		SyncMethod:    mapping.SyncMethodWebhook,
		LastAction:    action,
		Metadata:      meta,
	})
	if err != nil {
		return Result{}, err
	}

	log.Info("person synced", "contact_id", contact.ID, "action", string(action))
	return Result{Logged: true}, nil
}

// syncContact matches by external id before creating, so redelivered
// events update the existing contact instead of duplicating it.
func (h *RecordHandler) syncContact(ctx context.Context, recordID string, req telephony.ContactRequest) (telephony.Contact, error) {
	existing, err := h.tel.ListContacts(ctx, telephony.ContactFilter{ExternalIDs: []string{recordID}})
	if err != nil {
		return telephony.Contact{}, err
	}
	if len(existing) > 0 {
		return h.tel.UpdateContact(ctx, existing[0].ID, req)
	}
	return h.tel.CreateContact(ctx, req)
}

func contactRequest(rec crm.Record) telephony.ContactRequest {
	return telephony.ContactRequest{
		ExternalID:  rec.ID,
		FirstName:   rec.Attr("first_name"),
		LastName:    rec.Attr("last_name"),
		CompanyName: rec.Attr("company"),
		Phones:      recordPhones(rec),
	}
}

// recordPhones reads the phone attribute, which arrives either as a bare
// string or a list of strings.
func recordPhones(rec crm.Record) []string {
	switch v := rec.Attributes[contacts.PhoneAttribute].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}
