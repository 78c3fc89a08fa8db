package events

import (
	"context"
	"errors"

	"callsync/internal/contacts"
	"callsync/internal/crm"
	"callsync/internal/integration"
	"callsync/internal/mapping"
	"callsync/internal/notes"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
)

// MessageHandler logs sent and received text messages as CRM notes.
type MessageHandler struct {
	crm      crm.Client
	store    mapping.Store
	resolver *contacts.Resolver

	// autoCreate, when enabled, creates a person record for an unmatched
	// counterpart instead of dropping the message. Off by default.
	autoCreate bool
}

func NewMessageHandler(crmClient crm.Client, store mapping.Store, resolver *contacts.Resolver) *MessageHandler {
	return &MessageHandler{crm: crmClient, store: store, resolver: resolver}
}

func (h *MessageHandler) EnableAutoCreate() { h.autoCreate = true }

func (h *MessageHandler) Handle(ctx context.Context, cfg integration.Config, msg telephony.Message) (Result, error) {
	log := logger.From(ctx).With("message_id", msg.ID)

	if msg.ID == "" {
		return skipped("empty message id"), nil
	}
	if _, err := h.store.Get(ctx, cfg.WorkspaceID, msg.ID); err == nil {
		return skipped("message already logged"), nil
	} else if !errors.Is(err, mapping.ErrNotFound) {
		return Result{}, err
	}

	// The counterpart is the far end: To for outgoing, From for incoming.
	counterpart := msg.From
	if msg.Direction == "outgoing" {
		counterpart = msg.To
	}
	if contacts.NormalizePhone(counterpart) == "" {
		return skipped("no counterpart number"), nil
	}

	recordID, err := h.resolver.ResolveByPhone(ctx, cfg.WorkspaceID, counterpart)
	if errors.Is(err, contacts.ErrContactNotFound) {
		if !h.autoCreate {
			log.Info("message dropped, no matching contact", "counterpart", counterpart)
			return skipped("no matching contact"), nil
		}
		recordID, err = h.createContactRecord(ctx, cfg.WorkspaceID, counterpart)
	}
	if err != nil {
		return Result{}, err
	}

	note, err := h.crm.CreateNote(ctx, crm.NoteRequest{
		ParentType: contacts.PersonObjectType,
		ParentID:   recordID,
		Title:      notes.MessageTitle(counterpart),
		Body:       notes.RenderMessageBody(msg.Direction, counterpart, msg.Text),
	})
	if err != nil && !errors.Is(err, crm.ErrConflict) {
		return Result{}, err
	}

	patch := mapping.Patch{
		CounterpartID: &recordID,
		EntityType:    mapping.EntityMessage,
		SyncMethod:    mapping.SyncMethodWebhook,
		LastAction:    mapping.ActionCreated,
		Metadata:      map[string]string{mapping.MetaPhoneNumber: counterpart},
	}
	if errors.Is(err, crm.ErrConflict) {
		patch.LastAction = mapping.ActionConflictResolved
	} else {
		patch.Metadata[mapping.MetaNoteID] = note.ID
	}
	if _, err := h.store.Upsert(ctx, cfg.WorkspaceID, msg.ID, patch); err != nil {
		return Result{}, err
	}

	res := Result{Logged: true}
	if note.ID != "" {
		res.NoteIDs = []string{note.ID}
	}
	log.Info("message logged", "direction", msg.Direction)
	return res, nil
}

// createContactRecord backs the auto-create path: a minimal person record
// carrying only the phone number, immediately mapped so the resolver will
// accept it for future activity.
func (h *MessageHandler) createContactRecord(ctx context.Context, workspaceID, phone string) (string, error) {
	normalized := contacts.NormalizePhone(phone)
	rec, err := h.crm.CreateRecord(ctx, contacts.PersonObjectType, map[string]any{
		contacts.PhoneAttribute: []string{normalized},
	})
	if err != nil {
		return "", err
	}
	_, err = h.store.Upsert(ctx, workspaceID, rec.ID, mapping.Patch{
		EntityType: mapping.EntityPerson,
		SyncMethod: mapping.SyncMethodWebhook,
		LastAction: mapping.ActionCreated,
		Metadata:   map[string]string{mapping.MetaPhoneNumber: normalized},
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}
