// Package events turns verified webhook deliveries into CRM activity and
// identity-mapping writes. Handlers return an error only for retryable
// failures; every deliberate drop is a typed Result so callers can ack
// the delivery.
package events

// Kind is a webhook event type the engine understands.
type Kind string

const (
	KindCallCompleted        Kind = "call.completed"
	KindCallSummaryCompleted Kind = "call.summary.completed"
	KindMessageReceived      Kind = "message.received"
	KindMessageSent          Kind = "message.sent"

	KindRecordCreated Kind = "record.created"
	KindRecordUpdated Kind = "record.updated"
	KindRecordDeleted Kind = "record.deleted"

	KindUnknown Kind = ""
)

var known = map[Kind]struct{}{
	KindCallCompleted:        {},
	KindCallSummaryCompleted: {},
	KindMessageReceived:      {},
	KindMessageSent:          {},
	KindRecordCreated:        {},
	KindRecordUpdated:        {},
	KindRecordDeleted:        {},
}

// ParseKind maps a wire event type to a Kind, or KindUnknown. Unknown
// kinds are skipped with a log line, never an error: new upstream event
// types must not break ingestion.
func ParseKind(s string) Kind {
	if _, ok := known[Kind(s)]; ok {
		return Kind(s)
	}
	return KindUnknown
}

// Result reports what a handler did with a delivery.
type Result struct {
	// Logged means downstream activity was written.
	Logged bool

	// Skipped means the delivery was deliberately dropped; Reason says why.
	// A skipped delivery must be acked, not retried.
	Skipped bool
	Reason  string

	NoteIDs []string

	// Failures lists per-participant drops on multi-participant calls.
	// They never fail the delivery as a whole.
	Failures []ParticipantFailure
}

type ParticipantFailure struct {
	Participant string
	Reason      string
}

func skipped(reason string) Result {
	return Result{Skipped: true, Reason: reason}
}
