package messaging

import (
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestDeclareError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		mismatch bool
	}{
		{
			name: "precondition failed",
			err: &amqp.Error{
				Code:   amqp.PreconditionFailed,
				Reason: "PRECONDITION_FAILED - inequivalent arg 'durable' for queue 'orders'",
			},
			mismatch: true,
		},
		{
			name:     "wrapped precondition failed",
			err:      fmt.Errorf("channel closed: %w", &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg"}),
			mismatch: true,
		},
		{
			name: "access refused",
			err:  &amqp.Error{Code: amqp.AccessRefused, Reason: "ACCESS_REFUSED"},
		},
		{
			name: "plain error",
			err:  errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := declareError("orders", tt.err)
			if errors.Is(got, ErrQueueMismatch) != tt.mismatch {
				t.Fatalf("declareError() = %v, mismatch want %v", got, tt.mismatch)
			}
			if !tt.mismatch && !errors.Is(got, tt.err) {
				t.Errorf("declareError() = %v, does not wrap %v", got, tt.err)
			}
		})
	}
}
