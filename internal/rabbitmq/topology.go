package rabbitmq

import (
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology declares the exchange, work queue, dead-letter queue and retry
// delay queues for one consumer.
type Topology struct {
	cm          *ConnectionManager
	exchange    string
	queue       string
	routingKey  string
	dlq         string
	mu          sync.Mutex
	delayQueues map[string]bool
}

// NewTopology creates a topology for the given exchange/queue binding. The
// dead-letter queue is named "<queue>.dlq".
func NewTopology(cm *ConnectionManager, exchange, queue, routingKey string) *Topology {
	return &Topology{
		cm:          cm,
		exchange:    exchange,
		queue:       queue,
		routingKey:  routingKey,
		dlq:         queue + ".dlq",
		delayQueues: make(map[string]bool),
	}
}

// Queue returns the work queue name.
func (t *Topology) Queue() string { return t.queue }

// DeadLetterQueue returns the dead-letter queue name.
func (t *Topology) DeadLetterQueue() string { return t.dlq }

// Declare sets up the topic exchange, the work queue bound by the routing
// key pattern, and the dead-letter queue.
func (t *Topology) Declare() error {
	ch, err := t.cm.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		t.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.exchange, err)
	}

	if _, err := ch.QueueDeclare(
		t.dlq,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %s: %w", t.dlq, err)
	}

	if _, err := ch.QueueDeclare(
		t.queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.queue, err)
	}

	if err := ch.QueueBind(
		t.queue,
		t.routingKey,
		t.exchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue %s to %s with %q: %w",
			t.queue, t.exchange, t.routingKey, err)
	}

	return nil
}

// EnsureDelayQueue declares (once) the retry queue for a specific delay and
// returns its name. Messages published to it sit until the per-queue TTL
// expires, then dead-letter back into the work queue via the default
// exchange. Delays are rounded to the second to bound the number of queues.
// Delay queues are durable and never auto-deleted: a requeued message is
// acked on the work queue right after publishing here, so the delay queue
// must outlive any message parked in it.
func (t *Topology) EnsureDelayQueue(delay time.Duration) (string, error) {
	seconds := int(delay.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	name := fmt.Sprintf("%s.retry.%ds", t.queue, seconds)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.delayQueues[name] {
		return name, nil
	}

	ch, err := t.cm.Channel()
	if err != nil {
		return "", err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		delayQueueArgs(seconds, t.queue),
	); err != nil {
		return "", fmt.Errorf("failed to declare delay queue %s: %w", name, err)
	}

	t.delayQueues[name] = true
	return name, nil
}

// delayQueueArgs builds the declare arguments for a delay queue. No
// x-expires: the broker deleting an idle delay queue would make the next
// requeue publish route nowhere, losing the message.
func delayQueueArgs(seconds int, workQueue string) amqp.Table {
	return amqp.Table{
		"x-message-ttl":             seconds * 1000,
		"x-dead-letter-exchange":    "", // default exchange routes by queue name
		"x-dead-letter-routing-key": workQueue,
	}
}
