package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"callsync/internal/auth"
	"callsync/internal/backfill"
	"callsync/internal/contacts"
	"callsync/internal/crm"
	"callsync/internal/events"
	"callsync/internal/integration"
	"callsync/internal/mapping"
	"callsync/internal/queue"
	"callsync/internal/reporting"
	"callsync/internal/telephony"
)

const (
	testWS        = "ws-1"
	crmSecret     = "crm-top-secret"
	callSecret    = "call-secret"
	summarySecret = "summary-secret"
	messageSecret = "message-secret"
)

type fakeTel struct {
	telephony.Client

	calls map[string]telephony.Call
}

func (f *fakeTel) GetCall(ctx context.Context, id string) (telephony.Call, error) {
	c, ok := f.calls[id]
	if !ok {
		return telephony.Call{}, telephony.ErrNotFound
	}
	return c, nil
}

func (f *fakeTel) GetCallVoicemails(ctx context.Context, callID string) ([]telephony.Voicemail, error) {
	return nil, nil
}

func (f *fakeTel) GetUser(ctx context.Context, id string) (telephony.User, error) {
	return telephony.User{}, telephony.ErrNotFound
}

func (f *fakeTel) ListContacts(ctx context.Context, filter telephony.ContactFilter) ([]telephony.Contact, error) {
	return nil, nil
}

func (f *fakeTel) CreateContact(ctx context.Context, req telephony.ContactRequest) (telephony.Contact, error) {
	return telephony.Contact{ID: "ct-" + req.ExternalID, ExternalID: req.ExternalID}, nil
}

type fakeCRM struct {
	crm.Client

	phoneIndex map[string][]crm.Record
	notes      []crm.NoteRequest
	queryErr   error

	people     []crm.Record
	listLimits []int
}

func (f *fakeCRM) QueryRecords(ctx context.Context, objectType string, filter crm.Filter) ([]crm.Record, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.phoneIndex[filter.Value], nil
}

func (f *fakeCRM) ListRecords(ctx context.Context, objectType string, p crm.ListParams) ([]crm.Record, error) {
	f.listLimits = append(f.listLimits, p.Limit)
	if p.Offset >= len(f.people) {
		return nil, nil
	}
	end := p.Offset + p.Limit
	if end > len(f.people) {
		end = len(f.people)
	}
	return f.people[p.Offset:end], nil
}

func (f *fakeCRM) BatchGetRecords(ctx context.Context, objectType string, ids []string) ([]crm.Record, error) {
	return nil, nil
}

func (f *fakeCRM) CreateNote(ctx context.Context, req crm.NoteRequest) (crm.Note, error) {
	f.notes = append(f.notes, req)
	return crm.Note{ID: fmt.Sprintf("note-%d", len(f.notes))}, nil
}

type fakeQueue struct {
	published []queue.Delivery
}

func (f *fakeQueue) Publish(ctx context.Context, d queue.Delivery) error {
	f.published = append(f.published, d)
	return nil
}

func (f *fakeQueue) Consume(ctx context.Context) (<-chan queue.Inbound, error) { return nil, nil }
func (f *fakeQueue) Close() error                                              { return nil }

type fixture struct {
	router   *gin.Engine
	cfgStore *integration.MemoryConfigStore
	store    *mapping.MemoryStore
	fc       *fakeCRM
	ft       *fakeTel
	q        *fakeQueue
	handlers *Handlers
}

func newFixture(t *testing.T, withQueue bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fc := &fakeCRM{phoneIndex: map[string][]crm.Record{}}
	ft := &fakeTel{calls: map[string]telephony.Call{}}
	store := mapping.NewMemoryStore()
	cfgStore := integration.NewMemoryConfigStore()
	msgs := integration.NewMessages(integration.NewMemoryMessageRepo())

	if err := cfgStore.Put(context.Background(), integration.Config{
		WorkspaceID:             testWS,
		CRMSubscription:         &integration.Subscription{ID: "crm-wh-1"},
		MessageSubscription:     &integration.Subscription{ID: "tel-wh-1", Secret: messageSecret},
		CallSubscription:        &integration.Subscription{ID: "tel-wh-2", Secret: callSecret},
		CallSummarySubscription: &integration.Subscription{ID: "tel-wh-3", Secret: summarySecret},
		ResourceNumbers:         map[string]string{"pn-1": "+15550001111"},
	}); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	resolver := contacts.NewResolver(fc, store)
	dispatcher := events.NewDispatcher(
		events.NewCallHandler(ft, fc, store, resolver),
		events.NewMessageHandler(fc, store, resolver),
		events.NewRecordHandler(fc, ft, store),
	)

	var q queue.Client
	fq := &fakeQueue{}
	if withQueue {
		q = fq
	}
	h := NewHandlers(cfgStore, dispatcher, nil, backfill.NewEngine(fc, ft, store),
		reporting.NewService(store), msgs, crmSecret, nil, q)

	r := gin.New()
	r.POST("/webhooks/telephony", h.TelephonyWebhook)
	r.POST("/webhooks/crm", h.CRMWebhook)

	// The operator group normally sits behind JWT middleware; tests inject
	// the identity directly.
	op := r.Group("/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u-1", testWS, "admin"))
		c.Next()
	})
	op.GET("/integrations/:workspace_id/status", h.Status)
	op.GET("/integrations/:workspace_id/messages", h.Messages)
	op.POST("/integrations/:workspace_id/backfill", h.Backfill)

	return &fixture{router: r, cfgStore: cfgStore, store: store, fc: fc, ft: ft, q: fq, handlers: h}
}

// seedPerson makes a phone number resolvable to a mapped CRM record.
func (f *fixture) seedPerson(t *testing.T, recordID, phone string) {
	t.Helper()
	norm := contacts.NormalizePhone(phone)
	f.fc.phoneIndex[norm] = []crm.Record{{ID: recordID}}
	if _, err := f.store.Upsert(context.Background(), testWS, recordID, mapping.Patch{
		EntityType: mapping.EntityPerson,
		SyncMethod: mapping.SyncMethodWebhook,
		LastAction: mapping.ActionCreated,
	}); err != nil {
		t.Fatalf("seed person: %v", err)
	}
}

func telephonyEnvelope(t *testing.T, eventType string, object any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	body, err := json.Marshal(telephony.Envelope{
		Type: eventType,
		Data: telephony.EnvelopeData{Object: raw},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func signComposite(secret string, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "hmac;1;" + timestamp + ";" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signSimple(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (f *fixture) postTelephony(body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony?workspace_id="+testWS, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(telephonySignatureHeader, sig)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestTelephonyWebhookLogsCall(t *testing.T) {
	f := newFixture(t, false)
	f.seedPerson(t, "rec-1", "+15550002222")
	f.ft.calls["call-1"] = telephony.Call{
		ID:           "call-1",
		Status:       "completed",
		Participants: []string{"+15550001111", "+15550002222"},
	}

	body := telephonyEnvelope(t, "call.completed", telephony.CallObject{ID: "call-1"})
	w := f.postTelephony(body, signComposite(callSecret, "1717236000", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(f.fc.notes) != 1 {
		t.Fatalf("expected one note, got %d", len(f.fc.notes))
	}
}

func TestTelephonyWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, false)
	body := telephonyEnvelope(t, "call.completed", telephony.CallObject{ID: "call-1"})

	// Signed with the wrong category secret.
	w := f.postTelephony(body, signComposite(messageSecret, "1717236000", body))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(f.fc.notes) != 0 {
		t.Fatalf("rejected delivery must not be processed")
	}
}

func TestTelephonyWebhookRequiresWorkspace(t *testing.T) {
	f := newFixture(t, false)
	body := telephonyEnvelope(t, "call.completed", telephony.CallObject{ID: "call-1"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestTelephonyWebhookUnknownWorkspace(t *testing.T) {
	f := newFixture(t, false)
	body := telephonyEnvelope(t, "call.completed", telephony.CallObject{ID: "call-1"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telephony?workspace_id=ws-other", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestTelephonyWebhookSkipsUnknownEvent(t *testing.T) {
	f := newFixture(t, false)
	body := telephonyEnvelope(t, "call.ringing", telephony.CallObject{ID: "call-1"})
	w := f.postTelephony(body, signComposite(callSecret, "1717236000", body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["skipped"] != true {
		t.Fatalf("unknown event must be skipped: %v", out)
	}
}

func TestTelephonyWebhookParksRetryableFailure(t *testing.T) {
	f := newFixture(t, true)
	f.fc.queryErr = fmt.Errorf("crm unavailable")
	f.ft.calls["call-1"] = telephony.Call{
		ID:           "call-1",
		Status:       "completed",
		Participants: []string{"+15550001111", "+15550002222"},
	}

	body := telephonyEnvelope(t, "call.completed", telephony.CallObject{ID: "call-1"})
	w := f.postTelephony(body, signComposite(callSecret, "1717236000", body))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body = %s", w.Code, w.Body.String())
	}
	if len(f.q.published) != 1 {
		t.Fatalf("delivery not parked: %+v", f.q.published)
	}
	d := f.q.published[0]
	if d.Source != "telephony" || d.WorkspaceID != testWS || d.EventType != "call.completed" {
		t.Fatalf("parked delivery: %+v", d)
	}
}

func TestTelephonyWebhookFailsWithoutQueue(t *testing.T) {
	f := newFixture(t, false)
	f.fc.queryErr = fmt.Errorf("crm unavailable")
	f.ft.calls["call-1"] = telephony.Call{
		ID:           "call-1",
		Status:       "completed",
		Participants: []string{"+15550001111", "+15550002222"},
	}

	body := telephonyEnvelope(t, "call.completed", telephony.CallObject{ID: "call-1"})
	w := f.postTelephony(body, signComposite(callSecret, "1717236000", body))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestCRMWebhookVerifiesAndDispatchesBatch(t *testing.T) {
	f := newFixture(t, false)
	f.seedPerson(t, "rec-1", "+15550002222")

	env := crm.Envelope{Events: []crm.Event{
		{EventType: "record.deleted", ID: crm.EventID{RecordID: "rec-1"}},
		{EventType: "record.archived", ID: crm.EventID{RecordID: "rec-2"}},
	}}
	body, _ := json.Marshal(env)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/crm?workspace_id="+testWS, bytes.NewReader(body))
	req.Header.Set(crmSignatureHeader, signSimple(crmSecret, body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	// The delete applied even though its sibling event was unhandled.
	if _, err := f.store.Get(context.Background(), testWS, "rec-1"); err == nil {
		t.Fatalf("mapping should be deleted")
	}
}

func TestCRMWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(`{"events":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/crm?workspace_id="+testWS, bytes.NewReader(body))
	req.Header.Set(crmSignatureHeader, signSimple("wrong-secret", body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.seedPerson(t, "rec-1", "+15550002222")

	req := httptest.NewRequest(http.MethodGet, "/v1/integrations/"+testWS+"/status", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["configured"] != true {
		t.Fatalf("configured = %v", out["configured"])
	}
	if out["sync"] == nil {
		t.Fatalf("sync summary missing: %v", out)
	}
}

func TestStatusForbiddenForForeignWorkspace(t *testing.T) {
	f := newFixture(t, false)
	req := httptest.NewRequest(http.MethodGet, "/v1/integrations/ws-other/status", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestBackfillEndpointPageSizeIsPerRequest(t *testing.T) {
	f := newFixture(t, false)
	f.fc.people = []crm.Record{{ID: "rec-1"}, {ID: "rec-2"}}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/integrations/"+testWS+"/backfill", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}

	if w := post(`{"page_size":1}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	// A request without a page size gets the default, not the previous
	// request's size.
	if w := post(`{}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := f.fc.listLimits[len(f.fc.listLimits)-1]; got != 100 {
		t.Fatalf("page size leaked across requests, limit = %d", got)
	}
}

func TestReplayTelephonyDelivery(t *testing.T) {
	f := newFixture(t, true)
	f.seedPerson(t, "rec-1", "+15550002222")
	f.ft.calls["call-1"] = telephony.Call{
		ID:           "call-1",
		Status:       "completed",
		Participants: []string{"+15550001111", "+15550002222"},
	}

	body := telephonyEnvelope(t, "call.completed", telephony.CallObject{ID: "call-1"})
	err := f.handlers.Replay(context.Background(), queue.Delivery{
		Source:      "telephony",
		WorkspaceID: testWS,
		EventType:   "call.completed",
		Body:        body,
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(f.fc.notes) != 1 {
		t.Fatalf("replay did not log the call")
	}
}
