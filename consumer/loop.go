package consumer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskrelay/taskrelay-go/contracts"
	"github.com/taskrelay/taskrelay-go/dedup"
	"github.com/taskrelay/taskrelay-go/sink"
)

// Loop pulls envelopes from the transport and drives each through the
// processing state machine:
//
//	RECEIVED -> DEDUP_CHECK -> {SKIP | DISPATCH} -> {ACK | RETRY_DECISION}
//
// A fixed pool of workers consumes from one delivery channel, so one slow
// handler never blocks acknowledgment of other envelopes. The dedup store is
// the only shared structure; no lock is held across handler invocation.
type Loop struct {
	transport Transport
	registry  *Registry
	store     dedup.Store
	sink      sink.Sink
	policy    RetryPolicy
	workers   int
	logger    *slog.Logger
}

// LoopOption configures the Loop.
type LoopOption func(*Loop)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy RetryPolicy) LoopOption {
	return func(l *Loop) {
		l.policy = policy
	}
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// NewLoop creates a consumption loop. All collaborators are injected; there
// is no ambient global state.
func NewLoop(transport Transport, registry *Registry, store dedup.Store, s sink.Sink, options ...LoopOption) *Loop {
	l := &Loop{
		transport: transport,
		registry:  registry,
		store:     store,
		sink:      s,
		policy:    NewBackoffPolicy(),
		workers:   4,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

// Run consumes from the queue until the context is cancelled or the
// transport closes the delivery channel. In-flight envelopes are finished
// before Run returns; envelopes never pulled are redelivered by the broker
// after its visibility timeout.
func (l *Loop) Run(ctx context.Context, queue string) error {
	deliveries, err := l.transport.Consume(ctx, queue)
	if err != nil {
		return fmt.Errorf("failed to consume from queue %s: %w", queue, err)
	}

	l.logger.Info("consumption loop started",
		"queue", queue,
		"workers", l.workers,
	)

	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for d := range deliveries {
				l.Process(ctx, d)
			}
			l.logger.Debug("worker stopped", "queue", queue, "worker", worker)
		}(i)
	}

	wg.Wait()
	l.logger.Info("consumption loop stopped", "queue", queue)
	return nil
}

// Process drives a single delivery through the state machine. All failure
// paths settle the delivery: transient errors are retried internally via
// delayed requeue, permanent errors are dead-lettered with a reason. Nothing
// surfaces to the caller as a crashed worker.
func (l *Loop) Process(ctx context.Context, d Delivery) {
	env, err := contracts.DecodeEnvelope(d.RoutingKey(), d.Body(), d.MessageID(), d.DeliveryCount())
	if err != nil {
		l.logger.Error("failed to decode envelope",
			"routingKey", d.RoutingKey(),
			"error", err,
		)
		l.settle(ctx, d, &contracts.Envelope{ID: d.MessageID(), RoutingKey: d.RoutingKey(), DeliveryCount: d.DeliveryCount()}, err)
		return
	}

	// DEDUP_CHECK. A failed check is treated as a miss: re-running an
	// idempotent handler is safe, skipping an unprocessed envelope is not.
	seen, err := l.store.HasProcessed(ctx, env.ID)
	if err != nil {
		l.logger.Warn("dedup check failed, proceeding with dispatch",
			"messageId", env.ID,
			"error", err,
		)
	}
	if seen {
		// SKIP: ack without re-running the side effect.
		if err := d.Ack(); err != nil {
			l.logger.Error("failed to ack duplicate", "messageId", env.ID, "error", err)
		}
		l.logger.Debug("duplicate envelope skipped",
			"messageId", env.ID,
			"deliveryCount", env.DeliveryCount,
		)
		return
	}

	// DISPATCH.
	if err := l.dispatch(ctx, env); err != nil {
		l.settle(ctx, d, env, err)
		return
	}

	// ACK.
	if err := d.Ack(); err != nil {
		// The side effect is durable and committed; the broker will
		// redeliver and the dedup check will skip the re-run.
		l.logger.Error("failed to ack envelope", "messageId", env.ID, "error", err)
		return
	}

	l.logger.Info("envelope processed",
		"messageId", env.ID,
		"routingKey", env.RoutingKey,
		"deliveryCount", env.DeliveryCount,
	)
}

// dispatch resolves the handler, runs it, and on success makes the side
// effect durable and commits the dedup record. The commit lands after the
// sink write so a crash between the two costs one duplicate line, never a
// lost record.
func (l *Loop) dispatch(ctx context.Context, env *contracts.Envelope) error {
	handler, err := l.registry.Resolve(env.RoutingKey)
	if err != nil {
		return err
	}

	if err := handler.Handle(ctx, env); err != nil {
		return err
	}

	rec := sink.Record{TS: time.Now().UTC(), Payload: env.Payload}
	if err := l.sink.Write(ctx, rec); err != nil {
		return err
	}

	if err := l.store.Commit(ctx, env.ID, recordDigest(rec)); err != nil {
		// The record is durable; the worst case is one duplicate sink line
		// on redelivery, which at-least-once permits.
		l.logger.Warn("dedup commit failed",
			"messageId", env.ID,
			"error", err,
		)
	}

	return nil
}

// settle applies the retry decision for a failed envelope.
func (l *Loop) settle(ctx context.Context, d Delivery, env *contracts.Envelope, cause error) {
	decision := l.policy.Decide(env, cause)

	switch decision.Outcome {
	case Requeue:
		if err := l.transport.Requeue(ctx, d, decision.Delay); err != nil {
			l.logger.Error("failed to requeue envelope",
				"messageId", env.ID,
				"delay", decision.Delay,
				"error", err,
			)
			return
		}
		l.logger.Warn("envelope requeued",
			"messageId", env.ID,
			"routingKey", env.RoutingKey,
			"deliveryCount", env.DeliveryCount,
			"delay", decision.Delay,
			"error", cause,
		)

	case DeadLetter:
		if err := l.transport.DeadLetter(ctx, d, decision.Reason); err != nil {
			l.logger.Error("failed to dead-letter envelope",
				"messageId", env.ID,
				"error", err,
			)
			return
		}
		l.logger.Warn("envelope dead-lettered",
			"messageId", env.ID,
			"routingKey", env.RoutingKey,
			"deliveryCount", env.DeliveryCount,
			"reason", decision.Reason,
		)
	}
}

// recordDigest fingerprints the durable result for the dedup record.
func recordDigest(rec sink.Record) string {
	line, err := sink.MarshalRecord(rec)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:])
}
