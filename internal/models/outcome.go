package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome classifies what happened to a delivered message.
type Outcome string

const (
	// OutcomeDelivered is reported as soon as a message is received.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeMalformed means the payload did not decode into a valid Order.
	OutcomeMalformed Outcome = "malformed"
	// OutcomeProcessingFailed means a pipeline step failed for a valid Order.
	OutcomeProcessingFailed Outcome = "processing_failed"
	// OutcomeProcessingSucceeded means every step completed and the total was computed.
	OutcomeProcessingSucceeded Outcome = "processing_succeeded"
	// OutcomeDuplicate is only produced with ack-after-success, for a redelivered
	// message that was already completed.
	OutcomeDuplicate Outcome = "duplicate"
)

// State is a step of the per-message lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateAcknowledged State = "acknowledged"
	StateProcessing   State = "processing"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Result is the discriminated outcome of handling one delivery.
type Result struct {
	Outcome     Outcome
	OrderID     int
	Product     string
	Total       decimal.Decimal
	Step        string
	Err         error
	Payload     []byte
	MessageID   string
	Redelivered bool
	// Requeued is set when a failed delivery went back to the queue.
	Requeued    bool
	Transitions []State
	Duration    time.Duration
}

// Terminal reports whether the result is the final one for its message.
func (r Result) Terminal() bool {
	return r.Outcome != OutcomeDelivered
}

// TotalString renders the total with two fractional digits.
func (r Result) TotalString() string {
	return r.Total.StringFixed(2)
}
