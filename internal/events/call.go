package events

import (
	"context"
	"errors"
	"strings"

	"callsync/internal/contacts"
	"callsync/internal/crm"
	"callsync/internal/integration"
	"callsync/internal/mapping"
	"callsync/internal/notes"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
)

// Per-record metadata keys on a call mapping. Each external participant
// that got a note contributes a note:<record_id> and phone:<record_id>
// pair; enrichment walks them to replace every note.
const (
	noteMetaPrefix  = "note:"
	phoneMetaPrefix = "phone:"
)

func noteMetaKey(recordID string) string  { return noteMetaPrefix + recordID }
func phoneMetaKey(recordID string) string { return phoneMetaPrefix + recordID }

// CallHandler logs completed calls as CRM notes and later enriches them
// with AI summaries.
type CallHandler struct {
	tel      telephony.Client
	crm      crm.Client
	store    mapping.Store
	resolver *contacts.Resolver
}

func NewCallHandler(tel telephony.Client, crmClient crm.Client, store mapping.Store, resolver *contacts.Resolver) *CallHandler {
	return &CallHandler{tel: tel, crm: crmClient, store: store, resolver: resolver}
}

// HandleCompleted is phase one: log the finished call against every
// external participant that resolves to a synced CRM contact.
//
// The mapping row keyed by the call id is the idempotence signal, and it
// is per participant: each note:<record_id> entry marks one participant
// as applied, so a redelivery after a partial failure retries only the
// participants still missing a note instead of skipping the whole call.
func (h *CallHandler) HandleCompleted(ctx context.Context, cfg integration.Config, callID string) (Result, error) {
	log := logger.From(ctx).With("call_id", callID)

	if callID == "" {
		return skipped("empty call id"), nil
	}
	var applied map[string]string
	m, err := h.store.Get(ctx, cfg.WorkspaceID, callID)
	switch {
	case err == nil:
		applied = m.Metadata
	case errors.Is(err, mapping.ErrNotFound):
	default:
		return Result{}, err
	}

	// The webhook payload is only a pointer; the call object is always
	// re-fetched so decisions run on authoritative data.
	call, err := h.tel.GetCall(ctx, callID)
	if errors.Is(err, telephony.ErrNotFound) {
		return skipped("call not found upstream"), nil
	}
	if err != nil {
		return Result{}, err
	}

	externals := externalParticipants(call.Participants, cfg.OwnNumbers())
	if len(externals) == 0 {
		return skipped("no external participants"), nil
	}

	body, err := h.renderCallBody(ctx, call)
	if err != nil {
		return Result{}, err
	}

	var (
		res      Result
		meta     = map[string]string{mapping.MetaPhoneNumber: externals[0]}
		action   = mapping.ActionCreated
		retryErr error
	)
	for _, participant := range externals {
		recordID, err := h.resolver.ResolveByPhone(ctx, cfg.WorkspaceID, participant)
		if errors.Is(err, contacts.ErrContactNotFound) {
			res.Failures = append(res.Failures, ParticipantFailure{participant, "no matching contact"})
			continue
		}
		if err != nil {
			res.Failures = append(res.Failures, ParticipantFailure{participant, err.Error()})
			retryErr = err
			continue
		}

		// Already logged on an earlier delivery of this call.
		if _, ok := applied[noteMetaKey(recordID)]; ok {
			continue
		}
		if _, ok := applied[phoneMetaKey(recordID)]; ok {
			continue
		}

		note, err := h.crm.CreateNote(ctx, crm.NoteRequest{
			ParentType: contacts.PersonObjectType,
			ParentID:   recordID,
			Title:      notes.CallTitle(participant),
			Body:       body,
		})
		switch {
		case errors.Is(err, crm.ErrConflict):
			// A concurrent delivery already logged this participant.
			action = mapping.ActionConflictResolved
			meta[phoneMetaKey(recordID)] = participant
		case err != nil:
			res.Failures = append(res.Failures, ParticipantFailure{participant, err.Error()})
			retryErr = err
		default:
			res.NoteIDs = append(res.NoteIDs, note.ID)
			meta[noteMetaKey(recordID)] = note.ID
			meta[phoneMetaKey(recordID)] = participant
		}
	}

	if len(res.NoteIDs) == 0 && action != mapping.ActionConflictResolved {
		if retryErr != nil {
			return Result{}, retryErr
		}
		if applied != nil {
			return skipped("call already logged"), nil
		}
		log.Info("call dropped, no participant resolved to a synced contact",
			"participants", len(externals))
		return Result{Skipped: true, Reason: "no participant resolved", Failures: res.Failures}, nil
	}

	_, err = h.store.Upsert(ctx, cfg.WorkspaceID, callID, mapping.Patch{
		EntityType: mapping.EntityCall,
		SyncMethod: mapping.SyncMethodWebhook,
		LastAction: action,
		Metadata:   meta,
	})
	if err != nil {
		return Result{}, err
	}

	// The delivery is holistically logged only when every participant
	// attempt succeeded. A retryable failure still fails the delivery,
	// but the metadata written above keeps the finished participants
	// from being logged twice on redelivery.
	if retryErr != nil {
		return Result{}, retryErr
	}

	res.Logged = true
	log.Info("call logged", "notes", len(res.NoteIDs), "dropped_participants", len(res.Failures))
	return res, nil
}

// HandleSummary is phase two: replace each phase-one note with an
// enriched body. The CRM offers no note update, so enrichment deletes
// the old note and recreates it under the unchanged title.
func (h *CallHandler) HandleSummary(ctx context.Context, cfg integration.Config, sum telephony.SummaryObject) (Result, error) {
	log := logger.From(ctx).With("call_id", sum.CallID)

	if sum.CallID == "" {
		return skipped("empty call id"), nil
	}
	m, err := h.store.Get(ctx, cfg.WorkspaceID, sum.CallID)
	if errors.Is(err, mapping.ErrNotFound) {
		// Summary arrived before (or instead of) the completed event.
		return skipped("call not yet logged"), nil
	}
	if err != nil {
		return Result{}, err
	}

	call, err := h.tel.GetCall(ctx, sum.CallID)
	if errors.Is(err, telephony.ErrNotFound) {
		return skipped("call not found upstream"), nil
	}
	if err != nil {
		return Result{}, err
	}

	header, err := h.renderCallBody(ctx, call)
	if err != nil {
		return Result{}, err
	}
	body := notes.RenderEnrichedBody(header, sum.Summary, sum.NextSteps, renderJobs(sum.Jobs))

	var res Result
	meta := map[string]string{}
	for key, noteID := range m.Metadata {
		if !strings.HasPrefix(key, noteMetaPrefix) {
			continue
		}
		recordID := strings.TrimPrefix(key, noteMetaPrefix)
		participant := m.Metadata[phoneMetaKey(recordID)]

		if err := h.crm.DeleteNote(ctx, noteID); err != nil && !errors.Is(err, crm.ErrNotFound) {
			return Result{}, err
		}
		note, err := h.crm.CreateNote(ctx, crm.NoteRequest{
			ParentType: contacts.PersonObjectType,
			ParentID:   recordID,
			Title:      notes.CallTitle(participant),
			Body:       body,
		})
		if err != nil {
			return Result{}, err
		}
		res.NoteIDs = append(res.NoteIDs, note.ID)
		meta[noteMetaKey(recordID)] = note.ID
	}

	if len(res.NoteIDs) == 0 {
		return skipped("no notes recorded for call"), nil
	}

	_, err = h.store.Upsert(ctx, cfg.WorkspaceID, sum.CallID, mapping.Patch{
		LastAction: mapping.ActionUpdated,
		Metadata:   meta,
	})
	if err != nil {
		return Result{}, err
	}

	res.Logged = true
	log.Info("call enriched", "notes", len(res.NoteIDs))
	return res, nil
}

// renderCallBody builds the status header shared by phase one and the
// enriched note. Missed calls carry their voicemail line instead of a
// duration/recording line.
func (h *CallHandler) renderCallBody(ctx context.Context, call telephony.Call) (string, error) {
	status := notes.StatusInput{
		Answered:    call.Answered(),
		ForwardType: call.ForwardType,
		Status:      call.Status,
	}
	if call.UserID != "" && (call.Answered() || call.ForwardType == "user") {
		if u, err := h.tel.GetUser(ctx, call.UserID); err == nil {
			if call.Answered() {
				status.AnsweredBy = u.DisplayName()
			} else {
				status.ForwardedTo = u.DisplayName()
			}
		} else if !errors.Is(err, telephony.ErrNotFound) {
			return "", err
		}
	}

	lines := []string{notes.StatusLine(status)}
	if call.Answered() {
		lines = append(lines, notes.DurationLine(call.DurationSeconds, call.RecordingURL))
	} else {
		vms, err := h.tel.GetCallVoicemails(ctx, call.ID)
		if err != nil && !errors.Is(err, telephony.ErrNotFound) {
			return "", err
		}
		for _, vm := range vms {
			lines = append(lines, notes.VoicemailLine(vm.DurationSeconds, vm.URL))
		}
	}
	return notes.RenderCallBody(lines...), nil
}

// externalParticipants drops the integration's own line numbers from the
// participant list, comparing in normalized form.
func externalParticipants(participants, ownNumbers []string) []string {
	own := make(map[string]struct{}, len(ownNumbers))
	for _, n := range ownNumbers {
		own[contacts.NormalizePhone(n)] = struct{}{}
	}
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		np := contacts.NormalizePhone(p)
		if np == "" {
			continue
		}
		if _, ok := own[np]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

func renderJobs(jobs []telephony.Job) []notes.Job {
	out := make([]notes.Job, 0, len(jobs))
	for _, j := range jobs {
		nj := notes.Job{Icon: j.Icon, Name: j.Name}
		for _, f := range j.Fields {
			nj.Fields = append(nj.Fields, notes.JobField{Key: f.Key, Value: f.Value})
		}
		out = append(out, nj)
	}
	return out
}
