// Package queue is the retry path for webhook deliveries: a delivery that
// failed with a retryable error is parked on a RabbitMQ queue and replayed
// by a consumer instead of relying on upstream redelivery.
package queue

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Delivery is one parked webhook delivery. Body is the raw verified
// payload; verification is not repeated on replay.
type Delivery struct {
	Source      string `json:"source"` // "telephony" | "crm"
	WorkspaceID string `json:"workspace_id"`
	EventType   string `json:"event_type"`
	Body        []byte `json:"body"`
}

// Inbound is a consumed delivery whose broker ack is deferred until the
// consumer has finished handling it: a crash mid-replay leaves the
// message on the queue. Ack and Nack are no-ops on a zero value so tests
// can construct Inbound directly.
type Inbound struct {
	Delivery

	ack  func() error
	nack func(requeue bool) error
}

func (i Inbound) Ack() error {
	if i.ack == nil {
		return nil
	}
	return i.ack()
}

func (i Inbound) Nack(requeue bool) error {
	if i.nack == nil {
		return nil
	}
	return i.nack(requeue)
}

type Client interface {
	Publish(ctx context.Context, d Delivery) error
	Consume(ctx context.Context) (<-chan Inbound, error)
	Close() error
}

type rabbitClient struct {
	conn *amqp.Connection
	q    amqp.Queue
}

// NewRabbitClient connects to RabbitMQ and declares a durable queue with
// the given name.
func NewRabbitClient(url string, queueName string) (Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	// Fresh channels are opened per publish/consume.
	ch.Close()
	return &rabbitClient{conn: conn, q: q}, nil
}

func (r *rabbitClient) Publish(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx,
		"", r.q.Name, false, false,
		amqp.Publishing{ContentType: "application/json", Body: raw},
	)
}

func (r *rabbitClient) Consume(ctx context.Context) (<-chan Inbound, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	msgs, err := ch.Consume(r.q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	out := make(chan Inbound)
	go func() {
		defer ch.Close()
		defer close(out)
		for m := range msgs {
			var d Delivery
			if err := json.Unmarshal(m.Body, &d); err != nil {
				// Poison message; drop it rather than requeue forever.
				m.Nack(false, false)
				continue
			}
			msg := m
			in := Inbound{
				Delivery: d,
				ack:      func() error { return msg.Ack(false) },
				nack:     func(requeue bool) error { return msg.Nack(false, requeue) },
			}
			select {
			case out <- in:
				// The consumer owns the ack from here on.
			case <-ctx.Done():
				m.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

func (r *rabbitClient) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
