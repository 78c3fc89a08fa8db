package events

import (
	"context"
	"encoding/json"
	"fmt"

	"callsync/internal/crm"
	"callsync/internal/integration"
	"callsync/internal/telephony"
	"callsync/pkg/logger"
)

// Dispatcher routes verified deliveries to their handlers. The routing
// table is total: every kind either has a handler or is skipped with a
// log line, so an unknown upstream event can never wedge the queue.
type Dispatcher struct {
	calls    *CallHandler
	messages *MessageHandler
	records  *RecordHandler
}

func NewDispatcher(calls *CallHandler, messages *MessageHandler, records *RecordHandler) *Dispatcher {
	return &Dispatcher{calls: calls, messages: messages, records: records}
}

// DispatchTelephony handles one telephony envelope.
func (d *Dispatcher) DispatchTelephony(ctx context.Context, cfg integration.Config, env telephony.Envelope) (Result, error) {
	kind := ParseKind(env.Type)
	switch kind {
	case KindCallCompleted:
		var obj telephony.CallObject
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return skipped("malformed call object"), nil
		}
		return d.calls.HandleCompleted(ctx, cfg, obj.ID)

	case KindCallSummaryCompleted:
		var sum telephony.SummaryObject
		if err := json.Unmarshal(env.Data.Object, &sum); err != nil {
			return skipped("malformed summary object"), nil
		}
		return d.calls.HandleSummary(ctx, cfg, sum)

	case KindMessageReceived, KindMessageSent:
		var msg telephony.Message
		if err := json.Unmarshal(env.Data.Object, &msg); err != nil {
			return skipped("malformed message object"), nil
		}
		return d.messages.Handle(ctx, cfg, msg)

	default:
		logger.From(ctx).Info("skipping unhandled telephony event", "type", env.Type)
		return skipped(fmt.Sprintf("unhandled event type %q", env.Type)), nil
	}
}

// DispatchCRM handles one CRM record-change event.
func (d *Dispatcher) DispatchCRM(ctx context.Context, workspaceID string, ev crm.Event) (Result, error) {
	kind := ParseKind(ev.EventType)
	switch kind {
	case KindRecordCreated, KindRecordUpdated, KindRecordDeleted:
		return d.records.Handle(ctx, workspaceID, kind, ev)
	default:
		logger.From(ctx).Info("skipping unhandled crm event", "type", ev.EventType)
		return skipped(fmt.Sprintf("unhandled event type %q", ev.EventType)), nil
	}
}
