package queue

import (
	"errors"
	"testing"
)

func TestInboundZeroValueAckNackAreNoOps(t *testing.T) {
	var in Inbound
	if err := in.Ack(); err != nil {
		t.Fatalf("ack on zero value: %v", err)
	}
	if err := in.Nack(true); err != nil {
		t.Fatalf("nack on zero value: %v", err)
	}
}

func TestInboundDelegatesToBroker(t *testing.T) {
	var acked bool
	var requeued *bool
	in := Inbound{
		ack: func() error {
			acked = true
			return nil
		},
		nack: func(requeue bool) error {
			requeued = &requeue
			return errors.New("channel closed")
		},
	}

	if err := in.Ack(); err != nil || !acked {
		t.Fatalf("ack not delegated: acked=%v err=%v", acked, err)
	}
	if err := in.Nack(true); err == nil {
		t.Fatalf("nack error must propagate")
	}
	if requeued == nil || !*requeued {
		t.Fatalf("requeue flag not passed through")
	}
}
