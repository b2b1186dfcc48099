package consumer

import (
	"context"
	"time"
)

// Delivery represents one in-flight message handed over by the transport.
// The consumption loop exclusively owns a delivery until it is acknowledged,
// requeued or dead-lettered.
type Delivery interface {
	// Body returns the raw message body.
	Body() []byte

	// RoutingKey returns the routing key the message was published with.
	RoutingKey() string

	// MessageID returns the broker-supplied message id, or "" if absent.
	MessageID() string

	// DeliveryCount returns the delivery attempt number, starting at 1.
	DeliveryCount() int

	// Ack marks the message as successfully processed and removes it from
	// the broker.
	Ack() error
}

// Transport is the broker boundary. Implementations deliver messages from a
// named queue and perform the three permitted mutations on a delivery.
// Requeue and DeadLetter both settle the original delivery; the caller must
// not Ack afterwards.
type Transport interface {
	// Consume starts delivering messages from the queue. The channel closes
	// when the context is cancelled or the transport shuts down.
	Consume(ctx context.Context, queue string) (<-chan Delivery, error)

	// Requeue schedules the delivery for redelivery after the given delay,
	// with its delivery count advanced.
	Requeue(ctx context.Context, d Delivery, delay time.Duration) error

	// DeadLetter moves the delivery to the dead-letter path with an attached
	// reason, preserving it for inspection.
	DeadLetter(ctx context.Context, d Delivery, reason string) error
}
