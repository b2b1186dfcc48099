package consumer

import (
	"context"

	"github.com/taskrelay/taskrelay-go/contracts"
)

// Handler processes one envelope. Handlers are pure functions of the payload
// with no access to broker internals, and must be idempotent: the broker may
// redeliver an envelope after a visibility timeout, and the deduplication
// window is finite.
type Handler interface {
	Handle(ctx context.Context, env *contracts.Envelope) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, env *contracts.Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env *contracts.Envelope) error {
	return f(ctx, env)
}

// Permanent classifies a handler failure as permanent: redelivery cannot
// succeed, so the envelope goes straight to the dead-letter path.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &contracts.HandlerError{Permanent: true, Err: err}
}

// Transient classifies a handler failure as transient: the envelope is
// requeued with backoff up to the delivery ceiling.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &contracts.HandlerError{Permanent: false, Err: err}
}
