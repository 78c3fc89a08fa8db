package telephony

import (
	"encoding/json"
	"time"
)

// Call is the authoritative call object fetched by id. Webhook payloads
// may carry a stale or empty participant list, so handlers always re-fetch
// this object before making business decisions.
type Call struct {
	ID        string `json:"id"`
	Direction string `json:"direction"` // incoming | outgoing
	Status    string `json:"status"`   // completed | no-answer | busy | ...

	// AnsweredAt is the only trustworthy answered signal. A completed
	// call with a nil AnsweredAt was missed, whatever Status says.
	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`

	DurationSeconds int `json:"duration"`

	// Participants are the phone numbers on the call, including the
	// integration's own line number.
	Participants []string `json:"participants"`

	PhoneNumberID string `json:"phoneNumberId"`
	UserID        string `json:"userId,omitempty"`

	// ForwardType is set when the call was forwarded before ringing the
	// user: "user" (direct forward) or "menu" (phone-menu forward).
	ForwardType string `json:"forwardType,omitempty"`

	VoicemailID  string `json:"voicemailId,omitempty"`
	RecordingURL string `json:"recordingUrl,omitempty"`
}

// Answered reports whether the call carries a real answered timestamp.
// Status alone is never checked; completed calls with no AnsweredAt are
// classified as missed.
func (c Call) Answered() bool {
	return c.AnsweredAt != nil && !c.AnsweredAt.IsZero()
}

type Voicemail struct {
	ID              string `json:"id"`
	URL             string `json:"url,omitempty"`
	DurationSeconds int    `json:"duration"`
}

type Recording struct {
	ID              string `json:"id"`
	URL             string `json:"url,omitempty"`
	DurationSeconds int    `json:"duration"`
}

type PhoneNumber struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// DisplayName prefers the full name, falling back to email.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Email
	}
}

type Message struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"` // incoming | outgoing
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type Contact struct {
	ID          string   `json:"id"`
	ExternalID  string   `json:"externalId,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	CompanyName string   `json:"company,omitempty"`
	Phones      []string `json:"phoneNumbers,omitempty"`
}

// ContactFilter narrows ListContacts. ExternalIDs must serialize as one
// repeated query parameter per id; zero ids omit the parameter entirely.
type ContactFilter struct {
	ExternalIDs []string
	PhoneNumber string
	Limit       int
}

type ContactRequest struct {
	ExternalID  string   `json:"externalId,omitempty"`
	FirstName   string   `json:"firstName,omitempty"`
	LastName    string   `json:"lastName,omitempty"`
	CompanyName string   `json:"company,omitempty"`
	Phones      []string `json:"phoneNumbers,omitempty"`
}

// Webhook is a registered subscription. Key is the delivery secret used to
// verify inbound signatures; a creation response without both ID and Key
// is unusable and treated as a provisioning failure.
type Webhook struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	CreatedAt time.Time `json:"createdAt"`
}

// Envelope is one telephony webhook delivery.
type Envelope struct {
	Type string       `json:"type"`
	Data EnvelopeData `json:"data"`
}

type EnvelopeData struct {
	Object   json.RawMessage `json:"object"`
	DeepLink string          `json:"deepLink,omitempty"`
}

// SummaryObject is the data.object payload of a call.summary.completed
// event: AI-derived enrichment for an already-completed call.
type SummaryObject struct {
	CallID    string   `json:"callId"`
	Summary   []string `json:"summary,omitempty"`
	NextSteps []string `json:"nextSteps,omitempty"`
	Jobs      []Job    `json:"jobs,omitempty"`
}

// Job is one structured AI job result attached to a call summary.
type Job struct {
	Icon   string     `json:"icon,omitempty"`
	Name   string     `json:"name"`
	Fields []JobField `json:"fields,omitempty"`
}

type JobField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CallObject is the minimal data.object shape of call.* events. Only the
// id matters; the authoritative call is always re-fetched.
type CallObject struct {
	ID string `json:"id"`
}
