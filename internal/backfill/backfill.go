// Package backfill walks the CRM person list page by page and seeds the
// identity mappings (and telephony contacts) that webhook-driven sync
// assumes exist.
package backfill

import (
	"context"

	"callsync/internal/contacts"
	"callsync/internal/crm"
	"callsync/internal/mapping"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
)

// CompanyObjectType is the CRM object type person records reference.
const CompanyObjectType = "companies"

// companyAttr is the person attribute carrying the company record id.
const companyAttr = "company_id"

const defaultPageSize = 100

// Cursor is the resumable position of a backfill run. Offset-based: the
// CRM pages by limit/offset and a short page signals the end.
type Cursor struct {
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// StepResult reports what one page did.
type StepResult struct {
	Seen    int
	Mapped  int
	Skipped int
	Next    Cursor
}

type Engine struct {
	crm   crm.Client
	tel   telephony.Client
	store mapping.Store
}

func NewEngine(crmClient crm.Client, tel telephony.Client, store mapping.Store) *Engine {
	return &Engine{crm: crmClient, tel: tel, store: store}
}

// Step processes one page. Company records referenced by the page are
// fetched in a single batched request up front, never per person.
//
// pageSize is a per-call argument, never engine state: the engine is
// shared across concurrent operator requests. Zero means the default.
func (e *Engine) Step(ctx context.Context, workspaceID string, cur Cursor, pageSize int) (StepResult, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	log := logger.From(ctx).With("workspace_id", workspaceID, "offset", cur.Offset)

	page, err := e.crm.ListRecords(ctx, contacts.PersonObjectType, crm.ListParams{
		Limit:  pageSize,
		Offset: cur.Offset,
	})
	if err != nil {
		return StepResult{}, err
	}

	companies, err := e.fetchCompanies(ctx, page)
	if err != nil {
		return StepResult{}, err
	}

	res := StepResult{Seen: len(page)}
	for _, rec := range page {
		if rec.ID == "" {
			res.Skipped++
			continue
		}
		contact, err := e.syncContact(ctx, rec, companies[rec.Attr(companyAttr)])
		if err != nil {
			return res, err
		}
		patch := mapping.Patch{
			EntityType: mapping.EntityPerson,
			SyncMethod: mapping.SyncMethodBackfill,
			LastAction: mapping.ActionCreated,
		}
		if contact.ID != "" {
			id := contact.ID
			patch.CounterpartID = &id
		}
		if phones := recordPhones(rec); len(phones) > 0 {
			patch.Metadata = map[string]string{mapping.MetaPhoneNumber: phones[0]}
		}
		if _, err := e.store.Upsert(ctx, workspaceID, rec.ID, patch); err != nil {
			return res, err
		}
		res.Mapped++
	}

	res.Next = Cursor{Offset: cur.Offset + len(page), HasMore: len(page) == pageSize}
	log.Info("backfill page done", "seen", res.Seen, "mapped", res.Mapped, "has_more", res.Next.HasMore)
	return res, nil
}

// Run drains pages from cur until the CRM returns a short page.
func (e *Engine) Run(ctx context.Context, workspaceID string, cur Cursor, pageSize int) (total StepResult, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		step, err := e.Step(ctx, workspaceID, cur, pageSize)
		if err != nil {
			return total, err
		}
		total.Seen += step.Seen
		total.Mapped += step.Mapped
		total.Skipped += step.Skipped
		total.Next = step.Next
		if !step.Next.HasMore {
			return total, nil
		}
		cur = step.Next
	}
}

// fetchCompanies resolves the page's distinct company references in one
// batched request and returns them keyed by record id.
func (e *Engine) fetchCompanies(ctx context.Context, page []crm.Record) (map[string]crm.Record, error) {
	seen := map[string]struct{}{}
	ids := make([]string, 0)
	for _, rec := range page {
		id := rec.Attr(companyAttr)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	recs, err := e.crm.BatchGetRecords(ctx, CompanyObjectType, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crm.Record, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out, nil
}

// syncContact mirrors webhook-driven person sync: match the telephony
// contact by external id before creating one.
func (e *Engine) syncContact(ctx context.Context, rec crm.Record, company crm.Record) (telephony.Contact, error) {
	req := telephony.ContactRequest{
		ExternalID:  rec.ID,
		FirstName:   rec.Attr("first_name"),
		LastName:    rec.Attr("last_name"),
		CompanyName: company.Attr("name"),
		Phones:      recordPhones(rec),
	}
	existing, err := e.tel.ListContacts(ctx, telephony.ContactFilter{ExternalIDs: []string{rec.ID}})
	if err != nil {
		return telephony.Contact{}, err
	}
	if len(existing) > 0 {
		return e.tel.UpdateContact(ctx, existing[0].ID, req)
	}
	return e.tel.CreateContact(ctx, req)
}

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
