package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Record is one durable entry: the processed payload and when it was written.
type Record struct {
	TS      time.Time
	Payload map[string]interface{}
}

// Sink is the pluggable durable side effect performed on handler success.
// Write must be crash-safe: a partially written record must not be visible
// to readers. Failures are transient; the broker still holds the message
// until it is acked, so no message is lost on a failed write.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// MarshalRecord renders a record as a single JSON line without a trailing
// newline. Timestamps are UTC RFC 3339; payload values without a native JSON
// representation are serialized as their string form.
func MarshalRecord(rec Record) ([]byte, error) {
	out := struct {
		TS      string                 `json:"ts"`
		Payload map[string]interface{} `json:"payload"`
	}{
		TS:      rec.TS.UTC().Format(time.RFC3339),
		Payload: normalizeMap(rec.Payload),
	}
	return json.Marshal(out)
}

// normalizeMap replaces values json.Marshal cannot represent with their
// string form, recursing into nested objects and arrays.
func normalizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		if _, err := json.Marshal(val); err != nil {
			return fmt.Sprintf("%v", val)
		}
		return val
	}
}
