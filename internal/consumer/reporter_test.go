package consumer

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/prudhivi99/Distributed-Systems/orderqueue/internal/models"
)

func TestReporter_OneLinePerOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := NewReporter(zap.New(core))

	r.Report(models.Result{Outcome: models.OutcomeDelivered, MessageID: "a"})
	r.Report(models.Result{Outcome: models.OutcomeProcessingSucceeded, OrderID: 1, Total: decimal.RequireFromString("200")})
	r.Report(models.Result{Outcome: models.OutcomeProcessingFailed, OrderID: 2, Step: "shipping-cost", Err: errors.New("x")})
	r.Report(models.Result{Outcome: models.OutcomeMalformed, Payload: []byte("{")})

	if logs.Len() != 4 {
		t.Fatalf("log lines = %d, want 4", logs.Len())
	}

	ok := logs.FilterMessage("order processed").All()
	if len(ok) != 1 || ok[0].ContextMap()["total"] != "200.00" {
		t.Errorf("success line = %+v", ok)
	}
	failed := logs.FilterMessage("order processing failed").All()
	if len(failed) != 1 || failed[0].ContextMap()["step"] != "shipping-cost" {
		t.Errorf("failure line = %+v", failed)
	}

	snap := r.Stats().Snapshot()
	if snap.Delivered != 1 || snap.Succeeded != 1 || snap.Failed != 1 || snap.Malformed != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.LastOutcome != string(models.OutcomeMalformed) || snap.LastAt == nil {
		t.Errorf("last = %q at %v", snap.LastOutcome, snap.LastAt)
	}
	if snap.LastOrderID != 2 {
		t.Errorf("LastOrderID = %d, want 2", snap.LastOrderID)
	}
}
