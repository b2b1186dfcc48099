package consumer

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/taskrelay/taskrelay-go/contracts"
)

// Outcome is the retry policy's verdict for a failed envelope.
type Outcome int

const (
	// Requeue schedules the envelope for delayed redelivery.
	Requeue Outcome = iota
	// DeadLetter moves the envelope to the dead-letter path.
	DeadLetter
)

// Decision carries the outcome plus its parameters.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration // Requeue only
	Reason  string        // DeadLetter only
}

// RetryPolicy decides what happens to an envelope whose dispatch failed.
type RetryPolicy interface {
	Decide(env *contracts.Envelope, err error) Decision
}

// BackoffPolicy requeues transient failures with exponential backoff up to a
// delivery-count ceiling, and dead-letters permanent failures immediately,
// bypassing the retry budget.
type BackoffPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxDeliveries   int
	Jitter          bool
}

// NewBackoffPolicy creates the default policy: 1s initial delay doubling up
// to 1m, with a ceiling of 5 delivery attempts.
func NewBackoffPolicy() *BackoffPolicy {
	return &BackoffPolicy{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		MaxDeliveries:   5,
		Jitter:          true,
	}
}

// Decide implements RetryPolicy.
func (p *BackoffPolicy) Decide(env *contracts.Envelope, err error) Decision {
	if contracts.IsPermanent(err) {
		return Decision{Outcome: DeadLetter, Reason: err.Error()}
	}

	if env.DeliveryCount >= p.MaxDeliveries {
		return Decision{
			Outcome: DeadLetter,
			Reason:  fmt.Sprintf("delivery ceiling reached (%d): %v", p.MaxDeliveries, err),
		}
	}

	return Decision{Outcome: Requeue, Delay: p.NextDelay(env.DeliveryCount)}
}

// NextDelay returns the backoff delay after the given delivery attempt.
// Jitter stays within the step between attempts, so delays increase strictly
// until they reach MaxInterval and hold there.
func (p *BackoffPolicy) NextDelay(deliveryCount int) time.Duration {
	if deliveryCount < 1 {
		deliveryCount = 1
	}

	delay := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(deliveryCount-1))
	if delay >= float64(p.MaxInterval) {
		// Jitter on a capped delay could make it shrink between attempts.
		return p.MaxInterval
	}

	if p.Jitter {
		delay += rand.Float64() * 0.25 * delay
		if delay > float64(p.MaxInterval) {
			delay = float64(p.MaxInterval)
		}
	}

	return time.Duration(delay)
}
