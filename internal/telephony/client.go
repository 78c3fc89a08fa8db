package telephony

import (
	"context"
	"errors"
)

// Client is the capability interface for the telephony service. Rules:
// - No raw REST calls outside this package.
// - Keep request/response types provider-agnostic.
type Client interface {
	GetCall(ctx context.Context, id string) (Call, error)
	GetCallVoicemails(ctx context.Context, callID string) ([]Voicemail, error)
	GetCallRecordings(ctx context.Context, callID string) ([]Recording, error)
	GetPhoneNumber(ctx context.Context, id string) (PhoneNumber, error)
	GetUser(ctx context.Context, id string) (User, error)

	ListContacts(ctx context.Context, filter ContactFilter) ([]Contact, error)
	CreateContact(ctx context.Context, req ContactRequest) (Contact, error)
	UpdateContact(ctx context.Context, id string, req ContactRequest) (Contact, error)

	CreateMessageWebhook(ctx context.Context, url string, events, resourceIDs []string) (Webhook, error)
	CreateCallWebhook(ctx context.Context, url string, events, resourceIDs []string) (Webhook, error)
	CreateCallSummaryWebhook(ctx context.Context, url string, events, resourceIDs []string) (Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

var (
	ErrNotFound = errors.New("telephony: not found")
	ErrConflict = errors.New("telephony: conflict")
)
