package contracts

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"nil error", nil, false},
		{"decode error", &DecodeError{RoutingKey: "a.b", Err: errors.New("bad json")}, true},
		{"no handler error", &NoHandlerError{RoutingKey: "a.b"}, true},
		{"permanent handler error", &HandlerError{Permanent: true, Err: errors.New("bad sku")}, true},
		{"transient handler error", &HandlerError{Permanent: false, Err: errors.New("timeout")}, false},
		{"sink error", &SinkError{Op: "write", Err: errors.New("disk full")}, false},
		{"unclassified error", errors.New("something"), false},
		{"wrapped decode error", fmt.Errorf("dispatch: %w", &DecodeError{Err: errors.New("bad")}), true},
		{"wrapped transient handler error", fmt.Errorf("dispatch: %w", &HandlerError{Err: errors.New("flaky")}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")

	assert.ErrorIs(t, &DecodeError{Err: cause}, cause)
	assert.ErrorIs(t, &SinkError{Op: "write", Err: cause}, cause)
	assert.ErrorIs(t, &HandlerError{Err: cause}, cause)
}
