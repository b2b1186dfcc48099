// Package dedup tracks processed message identifiers so that redelivered
// envelopes are acknowledged without re-running their side effects.
//
// Two implementations are provided:
//   - MemoryStore: mutex-guarded map with TTL retention and a capacity cap,
//     suitable for a single worker process
//   - RedisStore: SET NX with key TTL, shared across worker processes
//
// Evicting a record re-opens the redelivery window for that id. That is the
// documented trade-off of bounding the store; handlers stay idempotent so a
// rare duplicate run is harmless.
package dedup
