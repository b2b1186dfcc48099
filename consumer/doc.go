// Package consumer implements the reliable task-consumption core: a loop
// that pulls routed envelopes off a broker, executes registered handlers
// with at-least-once semantics, and keeps side effects idempotent, ordered
// and crash-safe under redelivery.
//
// The pieces:
//   - Registry: maps routing-key patterns to handlers, populated explicitly
//     at startup
//   - Transport/Delivery: the broker boundary; acknowledge, delayed requeue
//     and dead-letter are the only mutating operations on a delivery
//   - RetryPolicy: decides between delayed requeue and dead-letter when a
//     dispatch fails, with permanent errors bypassing the retry budget
//   - Loop: the per-envelope state machine, run by a fixed pool of workers
//
// Processing order per envelope: dedup check, handler dispatch, sink write,
// dedup commit, acknowledgment. No lock is held across the handler
// invocation; the short window in which a duplicate check can race a
// running handler is compensated by idempotent handler design.
package consumer
