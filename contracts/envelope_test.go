package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Run("decodes well-formed payload", func(t *testing.T) {
		env, err := DecodeEnvelope("analytics.low_stock", []byte(`{"sku":"A1","amount":5}`), "m1", 1)

		require.NoError(t, err)
		assert.Equal(t, "m1", env.ID)
		assert.Equal(t, "analytics.low_stock", env.RoutingKey)
		assert.Equal(t, "A1", env.Payload["sku"])
		assert.Equal(t, float64(5), env.Payload["amount"])
		assert.Equal(t, 1, env.DeliveryCount)
		assert.False(t, env.ReceivedAt.IsZero())
	})

	t.Run("malformed payload fails with DecodeError", func(t *testing.T) {
		env, err := DecodeEnvelope("analytics.low_stock", []byte(`not json`), "m1", 1)

		assert.Nil(t, env)
		var decodeErr *DecodeError
		require.ErrorAs(t, err, &decodeErr)
		assert.Equal(t, "analytics.low_stock", decodeErr.RoutingKey)
	})

	t.Run("non-object payload fails with DecodeError", func(t *testing.T) {
		_, err := DecodeEnvelope("analytics.low_stock", []byte(`[1,2,3]`), "m1", 1)

		var decodeErr *DecodeError
		assert.ErrorAs(t, err, &decodeErr)
	})

	t.Run("derives stable id from body when broker id is absent", func(t *testing.T) {
		body := []byte(`{"sku":"A1"}`)

		first, err := DecodeEnvelope("analytics.low_stock", body, "", 1)
		require.NoError(t, err)
		second, err := DecodeEnvelope("analytics.low_stock", body, "", 2)
		require.NoError(t, err)

		assert.NotEmpty(t, first.ID)
		assert.Equal(t, first.ID, second.ID, "derived id must be stable across redelivery")
	})

	t.Run("clamps delivery count to at least one", func(t *testing.T) {
		env, err := DecodeEnvelope("analytics.low_stock", []byte(`{}`), "m1", 0)

		require.NoError(t, err)
		assert.Equal(t, 1, env.DeliveryCount)
	})
}
