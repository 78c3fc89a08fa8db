package crm

// Envelope is one CRM webhook delivery. Deliveries are batched: a single
// POST may carry several events, each dispatched independently.
type Envelope struct {
	Events []Event `json:"events"`
}

// Event is a single CRM record-change event.
type Event struct {
	EventType string  `json:"event_type"`
	ID        EventID `json:"id"`
	Actor     Actor   `json:"actor"`
}

type EventID struct {
	RecordID    string `json:"record_id"`
	ObjectID    string `json:"object_id"`
	WorkspaceID string `json:"workspace_id"`
}

type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}
