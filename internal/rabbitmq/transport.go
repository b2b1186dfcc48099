package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/taskrelay/taskrelay-go/consumer"
)

const deliveryCountHeader = "x-delivery-count"

// Transport implements consumer.Transport over amqp091. One channel is used
// for consuming, a second for requeue/dead-letter publishing; both are
// opened lazily against the managed connection.
type Transport struct {
	cm       *ConnectionManager
	topology *Topology
	prefetch int
	logger   *slog.Logger

	mu        sync.Mutex
	pubCh     *amqp.Channel
	consuming map[string]bool
	closed    bool
}

// TransportOption configures the Transport.
type TransportOption func(*Transport)

// WithPrefetch sets the consumer prefetch count.
func WithPrefetch(count int) TransportOption {
	return func(t *Transport) {
		if count > 0 {
			t.prefetch = count
		}
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates an AMQP transport bound to a declared topology.
func NewTransport(cm *ConnectionManager, topology *Topology, options ...TransportOption) *Transport {
	t := &Transport{
		cm:        cm,
		topology:  topology,
		prefetch:  10,
		logger:    slog.Default(),
		consuming: make(map[string]bool),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// Consume implements consumer.Transport. Deliveries use manual
// acknowledgment; the returned channel closes when the context is cancelled
// or the broker closes the stream.
func (t *Transport) Consume(ctx context.Context, queue string) (<-chan consumer.Delivery, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if t.consuming[queue] {
		t.mu.Unlock()
		return nil, ErrAlreadyConsuming
	}
	t.consuming[queue] = true
	t.mu.Unlock()

	ch, err := t.cm.Channel()
	if err != nil {
		t.releaseQueue(queue)
		return nil, err
	}

	if err := ch.Qos(t.prefetch, 0, false); err != nil {
		ch.Close()
		t.releaseQueue(queue)
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	tag := fmt.Sprintf("taskrelay-%s", uuid.NewString())
	deliveries, err := ch.Consume(
		queue,
		tag,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		t.releaseQueue(queue)
		return nil, fmt.Errorf("failed to start consuming from %s: %w", queue, err)
	}

	out := make(chan consumer.Delivery)
	go t.forward(ctx, queue, ch, deliveries, out)

	t.logger.Info("consuming from queue",
		"queue", queue,
		"consumerTag", tag,
		"prefetch", t.prefetch,
	)

	return out, nil
}

// forward converts amqp deliveries and closes the output on shutdown.
func (t *Transport) forward(ctx context.Context, queue string, ch *amqp.Channel, in <-chan amqp.Delivery, out chan<- consumer.Delivery) {
	defer func() {
		close(out)
		ch.Close()
		t.releaseQueue(queue)
		t.logger.Info("stopped consuming", "queue", queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-in:
			if !ok {
				t.logger.Warn("delivery stream closed by broker", "queue", queue)
				return
			}
			select {
			case out <- &amqpDelivery{d: d}:
			case <-ctx.Done():
				// Unacked delivery; the broker redelivers it after the
				// visibility timeout.
				return
			}
		}
	}
}

// releaseQueue frees a queue reserved by Consume so it can be consumed again.
func (t *Transport) releaseQueue(queue string) {
	t.mu.Lock()
	delete(t.consuming, queue)
	t.mu.Unlock()
}

// Requeue implements consumer.Transport. The body is republished to a delay
// queue with the delivery count advanced, then the original is acked. If the
// publish fails the original is left unacked so the broker redelivers it.
func (t *Transport) Requeue(ctx context.Context, d consumer.Delivery, delay time.Duration) error {
	ad, ok := d.(*amqpDelivery)
	if !ok {
		return ErrInvalidDelivery
	}

	delayQueue, err := t.topology.EnsureDelayQueue(delay)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range ad.d.Headers {
		headers[k] = v
	}
	headers[deliveryCountHeader] = int64(d.DeliveryCount() + 1)
	// Preserve the original routing key so the redelivered message resolves
	// to the same handler.
	if key := ad.RoutingKey(); key != "" {
		headers["x-original-routing-key"] = key
	}

	pub := amqp.Publishing{
		ContentType:  ad.d.ContentType,
		MessageId:    ad.d.MessageId,
		Body:         ad.d.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
	}

	if err := t.publish(ctx, "", delayQueue, pub); err != nil {
		return err
	}

	return ad.d.Ack(false)
}

// DeadLetter implements consumer.Transport. The body is published to the
// dead-letter queue with the reason attached, then the original is acked.
func (t *Transport) DeadLetter(ctx context.Context, d consumer.Delivery, reason string) error {
	ad, ok := d.(*amqpDelivery)
	if !ok {
		return ErrInvalidDelivery
	}

	headers := amqp.Table{}
	for k, v := range ad.d.Headers {
		headers[k] = v
	}
	headers["x-dead-letter-reason"] = reason
	headers["x-original-routing-key"] = ad.d.RoutingKey

	pub := amqp.Publishing{
		ContentType:  ad.d.ContentType,
		MessageId:    ad.d.MessageId,
		Body:         ad.d.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
	}

	if err := t.publish(ctx, "", t.topology.DeadLetterQueue(), pub); err != nil {
		return err
	}

	return ad.d.Ack(false)
}

// Close shuts down the publishing channel. Consuming channels are owned by
// their forward goroutines and close with their contexts.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.pubCh != nil {
		err := t.pubCh.Close()
		t.pubCh = nil
		return err
	}
	return nil
}

// publish sends on the shared publishing channel, reopening it if the broker
// closed it since the last use.
func (t *Transport) publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}

	if t.pubCh == nil || t.pubCh.IsClosed() {
		ch, err := t.cm.Channel()
		if err != nil {
			return err
		}
		t.pubCh = ch
	}

	if err := t.pubCh.PublishWithContext(ctx, exchange, routingKey, false, false, pub); err != nil {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}
	return nil
}

// amqpDelivery adapts amqp.Delivery to consumer.Delivery.
type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) Body() []byte      { return a.d.Body }
func (a *amqpDelivery) MessageID() string { return a.d.MessageId }

// RoutingKey returns the key the message was originally published with.
// Requeued messages travel through the default exchange, so the original key
// is carried in a header.
func (a *amqpDelivery) RoutingKey() string {
	if key, ok := a.d.Headers["x-original-routing-key"].(string); ok && key != "" {
		return key
	}
	return a.d.RoutingKey
}

// DeliveryCount reads the attempt number stamped by Requeue, falling back to
// the broker's redelivered flag for messages that never went through it.
func (a *amqpDelivery) DeliveryCount() int {
	if v, ok := a.d.Headers[deliveryCountHeader]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int32:
			return int(n)
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	if a.d.Redelivered {
		return 2
	}
	return 1
}

func (a *amqpDelivery) Ack() error {
	return a.d.Ack(false)
}
