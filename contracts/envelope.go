package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Envelope is the canonical representation of one inbound task delivered by
// the broker. It is an immutable value once constructed; identity is by ID.
type Envelope struct {
	// ID uniquely identifies the task and is stable across redeliveries.
	// Supplied by the broker, or derived from the payload bytes if absent.
	ID string `json:"id"`

	// RoutingKey selects the handler, e.g. "analytics.low_stock".
	RoutingKey string `json:"routingKey"`

	// Payload is the structured task input.
	Payload map[string]interface{} `json:"payload"`

	// DeliveryCount counts delivery attempts, starting at 1 for the first
	// delivery. Monotonically non-decreasing across the envelope's lifetime.
	DeliveryCount int `json:"deliveryCount"`

	// ReceivedAt is when this delivery was pulled from the broker (UTC).
	ReceivedAt time.Time `json:"receivedAt"`
}

// DecodeEnvelope constructs an Envelope from raw wire bytes. The body must be
// a JSON object; anything else fails with *DecodeError. When the broker did
// not supply a message id, a stable one is derived by hashing the body so
// redeliveries of the same message map to the same id.
func DecodeEnvelope(routingKey string, body []byte, messageID string, deliveryCount int) (*Envelope, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &DecodeError{RoutingKey: routingKey, Err: err}
	}

	id := messageID
	if id == "" {
		id = digestBody(body)
	}
	if deliveryCount < 1 {
		deliveryCount = 1
	}

	return &Envelope{
		ID:            id,
		RoutingKey:    routingKey,
		Payload:       payload,
		DeliveryCount: deliveryCount,
		ReceivedAt:    time.Now().UTC(),
	}, nil
}

// digestBody derives a stable identifier from the raw payload bytes.
func digestBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
