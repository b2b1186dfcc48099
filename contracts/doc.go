// Package contracts defines the core types exchanged between the broker
// transport and the consumption loop.
//
// The central type is Envelope, the canonical representation of one inbound
// task. Envelopes are immutable values constructed by the broker-facing
// adapter; identity is by ID, which stays stable across redeliveries.
//
// The package also defines the processing error taxonomy:
//   - DecodeError: malformed wire payload (permanent)
//   - NoHandlerError: no handler matches the routing key (permanent)
//   - DuplicateRegistrationError: conflicting handler registration (startup fatal)
//   - SinkError: durable write failed (transient)
//   - HandlerError: handler failure, classified transient or permanent
//
// IsPermanent reports how the retry policy should treat a given error.
package contracts
