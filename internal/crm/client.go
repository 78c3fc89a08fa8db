package crm

import (
	"context"
	"errors"
	"time"
)

// Client is the capability interface the sync engine consumes. Concrete
// REST shapes belong to the HTTP implementation; business logic must only
// depend on this interface.
type Client interface {
	// GetObject resolves object-type metadata by its well-known name.
	// Callers memoize the result through integration.TypeCache rather
	// than hitting this per delivery.
	GetObject(ctx context.Context, name string) (Object, error)

	GetRecord(ctx context.Context, objectType, id string) (Record, error)
	ListRecords(ctx context.Context, objectType string, params ListParams) ([]Record, error)

	// QueryRecords runs a structured attribute filter. Implementations
	// return ErrUnsupportedFilter when the CRM rejects the filter shape;
	// callers fall back to SearchRecords.
	QueryRecords(ctx context.Context, objectType string, filter Filter) ([]Record, error)
	SearchRecords(ctx context.Context, objectType, query string) ([]Record, error)

	// BatchGetRecords fetches many records in one request ($in-style).
	// An empty id list returns an empty slice without a request.
	BatchGetRecords(ctx context.Context, objectType string, ids []string) ([]Record, error)

	CreateRecord(ctx context.Context, objectType string, attributes map[string]any) (Record, error)

	CreateNote(ctx context.Context, req NoteRequest) (Note, error)
	DeleteNote(ctx context.Context, noteID string) error

	CreateWebhook(ctx context.Context, req WebhookRequest) (Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

var (
	ErrNotFound          = errors.New("crm: not found")
	ErrConflict          = errors.New("crm: conflict")
	ErrUnsupportedFilter = errors.New("crm: unsupported filter")
)

// Object is CRM object-type metadata. ID is what the record endpoints
// address the type by; Name is the human slug ("people", "companies").
type Object struct {
	ID   string `json:"id"`
	Name string `json:"api_slug"`
}

// Record is a CRM record of any object type. Attributes are kept loose;
// the engine only reads a handful of well-known keys.
type Record struct {
	ID         string         `json:"id"`
	ObjectID   string         `json:"object_id"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Attr returns a string attribute, or "" when absent or non-string.
func (r Record) Attr(key string) string {
	if v, ok := r.Attributes[key].(string); ok {
		return v
	}
	return ""
}

type ListParams struct {
	Limit  int
	Offset int
}

// Filter is a single-attribute exact-match filter.
type Filter struct {
	Attribute string
	Value     string
}

type NoteRequest struct {
	ParentType string `json:"parent_object"`
	ParentID   string `json:"parent_record_id"`
	Title      string `json:"title"`
	Body       string `json:"content"`
}

type Note struct {
	ID         string    `json:"id"`
	ParentType string    `json:"parent_object"`
	ParentID   string    `json:"parent_record_id"`
	Title      string    `json:"title"`
	Body       string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

type WebhookRequest struct {
	TargetURL     string   `json:"target_url"`
	Subscriptions []string `json:"subscriptions"`
}

type Webhook struct {
	ID        string    `json:"id"`
	TargetURL string    `json:"target_url"`
	CreatedAt time.Time `json:"created_at"`
}
