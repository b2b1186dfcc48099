package consumer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskrelay/taskrelay-go/contracts"
)

func TestBackoffPolicyDecide(t *testing.T) {
	env := func(count int) *contracts.Envelope {
		return &contracts.Envelope{ID: "m1", RoutingKey: "analytics.low_stock", DeliveryCount: count}
	}

	t.Run("transient error below ceiling is requeued", func(t *testing.T) {
		p := NewBackoffPolicy()

		d := p.Decide(env(1), &contracts.SinkError{Op: "write", Err: errors.New("disk full")})

		assert.Equal(t, Requeue, d.Outcome)
		assert.Greater(t, d.Delay, time.Duration(0))
	})

	t.Run("permanent error dead-letters immediately", func(t *testing.T) {
		p := NewBackoffPolicy()

		d := p.Decide(env(1), &contracts.NoHandlerError{RoutingKey: "analytics.unknown"})

		assert.Equal(t, DeadLetter, d.Outcome)
		assert.Contains(t, d.Reason, "analytics.unknown")
	})

	t.Run("delivery ceiling routes to dead-letter", func(t *testing.T) {
		p := NewBackoffPolicy()

		d := p.Decide(env(5), errors.New("still failing"))

		assert.Equal(t, DeadLetter, d.Outcome)
		assert.Contains(t, d.Reason, "delivery ceiling")
	})

	t.Run("permanent classification wins over ceiling check", func(t *testing.T) {
		p := NewBackoffPolicy()

		d := p.Decide(env(2), &contracts.HandlerError{Permanent: true, Err: errors.New("bad sku")})

		assert.Equal(t, DeadLetter, d.Outcome)
		assert.Contains(t, d.Reason, "bad sku")
	})
}

func TestBackoffPolicyNextDelay(t *testing.T) {
	t.Run("doubles per attempt without jitter", func(t *testing.T) {
		p := NewBackoffPolicy()
		p.Jitter = false

		assert.Equal(t, time.Second, p.NextDelay(1))
		assert.Equal(t, 2*time.Second, p.NextDelay(2))
		assert.Equal(t, 4*time.Second, p.NextDelay(3))
		assert.Equal(t, 8*time.Second, p.NextDelay(4))
	})

	t.Run("caps at max interval", func(t *testing.T) {
		p := NewBackoffPolicy()
		p.Jitter = false

		assert.Equal(t, p.MaxInterval, p.NextDelay(30))
	})

	t.Run("delays stay strictly increasing with jitter", func(t *testing.T) {
		p := NewBackoffPolicy()

		for i := 0; i < 50; i++ {
			prev := time.Duration(0)
			for attempt := 1; attempt <= 4; attempt++ {
				d := p.NextDelay(attempt)
				assert.Greater(t, d, prev, "attempt %d", attempt)
				prev = d
			}
		}
	})

	t.Run("delays never decrease past the cap with a raised ceiling", func(t *testing.T) {
		p := NewBackoffPolicy()
		p.MaxDeliveries = 10

		for i := 0; i < 50; i++ {
			prev := time.Duration(0)
			for attempt := 1; attempt < p.MaxDeliveries; attempt++ {
				d := p.NextDelay(attempt)
				assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
				assert.LessOrEqual(t, d, p.MaxInterval, "attempt %d", attempt)
				prev = d
			}
		}
	})
}
