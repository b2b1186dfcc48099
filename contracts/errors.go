package contracts

import (
	"errors"
	"fmt"
)

// DecodeError indicates the wire payload was not well-formed structured data.
// Decode failures are permanent: redelivery cannot fix a malformed body.
type DecodeError struct {
	RoutingKey string // Routing key of the rejected delivery
	Err        error  // Underlying unmarshal error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error: malformed payload for routing key %q: %v", e.RoutingKey, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NoHandlerError indicates no registered pattern matched the routing key.
// Non-fatal for the worker: the envelope is dead-lettered, not dropped.
type NoHandlerError struct {
	RoutingKey string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for routing key %q", e.RoutingKey)
}

// DuplicateRegistrationError indicates two handlers were bound to the same
// routing pattern. Registration happens at startup, so this aborts the process.
type DuplicateRegistrationError struct {
	Pattern string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("handler already registered for pattern %q", e.Pattern)
}

// SinkError indicates a durable write failed. Sink failures are transient:
// the broker still holds the message until it is acked, so the envelope is
// requeued rather than lost.
type SinkError struct {
	Path string // Sink target, if applicable
	Op   string // Operation that failed
	Err  error
}

func (e *SinkError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("sink error: %s failed for %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("sink error: %s failed: %v", e.Op, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a handler failure with its classification. Handlers mark
// failures permanent when redelivery cannot succeed (bad input, violated
// invariant) and transient otherwise (downstream unavailable, timeout).
type HandlerError struct {
	Permanent bool
	Err       error
}

func (e *HandlerError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("handler error (permanent): %v", e.Err)
	}
	return fmt.Sprintf("handler error (transient): %v", e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether an error should bypass the retry budget and go
// straight to the dead-letter path. Unclassified errors default to transient,
// mirroring the broker-level default of requeue-on-nack.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return true
	}

	var noHandler *NoHandlerError
	if errors.As(err, &noHandler) {
		return true
	}

	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		return handlerErr.Permanent
	}

	return false
}
