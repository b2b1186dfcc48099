// Package rabbitmq provides the AMQP implementation of the broker boundary.
//
// This package includes:
//   - ConnectionManager: manages the broker connection with automatic
//     reconnection and exponential backoff
//   - Topology: declares the topic exchange, work queue, dead-letter queue
//     and per-delay retry queues
//   - Transport: implements consumer.Transport over amqp091, covering
//     manual-acknowledgment consuming, delayed requeue via TTL queues that
//     dead-letter back into the work queue, and dead-letter publishing with
//     an attached reason
//
// Delayed requeue uses the TTL+DLX pattern: each distinct delay gets its own
// queue with a per-queue message TTL whose dead-letter routing points back at
// the work queue, so no process needs to poll for due retries.
package rabbitmq
