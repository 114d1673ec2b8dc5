package process

import (
	"testing"
	"time"

	"github.com/oriys/courier/internal/domain"
)

func done(t time.Time) *time.Time { return &t }

func entry(step string, outcome domain.ReplyOutcome, received bool) domain.ProcessAuditEntry {
	e := domain.ProcessAuditEntry{StepName: step, ReplyOutcome: outcome}
	if received {
		e.ReceivedAt = done(time.Now())
	}
	return e
}

func TestNextCompensationReverseOrder(t *testing.T) {
	entries := []domain.ProcessAuditEntry{
		entry("reserve_stock", domain.OutcomeSuccess, true),
		entry("charge_card", domain.OutcomeSuccess, true),
		entry("ship_order", domain.OutcomeCanceled, true),
	}

	target, inFlight := nextCompensation(entries, nil)
	if inFlight {
		t.Fatal("unexpected in-flight compensation")
	}
	if target == nil || target.StepName != "charge_card" {
		t.Fatalf("target = %+v, want charge_card (most recent completed step)", target)
	}
}

func TestNextCompensationSkipsCompensated(t *testing.T) {
	entries := []domain.ProcessAuditEntry{
		entry("reserve_stock", domain.OutcomeSuccess, true),
		entry("charge_card", domain.OutcomeSuccess, true),
		entry("ship_order", domain.OutcomeCanceled, true),
		entry("compensate:charge_card", domain.OutcomeSuccess, true),
	}

	target, inFlight := nextCompensation(entries, nil)
	if inFlight {
		t.Fatal("unexpected in-flight compensation")
	}
	if target == nil || target.StepName != "reserve_stock" {
		t.Fatalf("target = %+v, want reserve_stock", target)
	}
}

func TestNextCompensationWaitsForInFlight(t *testing.T) {
	entries := []domain.ProcessAuditEntry{
		entry("reserve_stock", domain.OutcomeSuccess, true),
		entry("compensate:reserve_stock", "", false),
	}

	if _, inFlight := nextCompensation(entries, nil); !inFlight {
		t.Error("expected in-flight while undo reply is pending")
	}
}

func TestNextCompensationDoneWhenAllUndone(t *testing.T) {
	entries := []domain.ProcessAuditEntry{
		entry("reserve_stock", domain.OutcomeSuccess, true),
		entry("charge_card", domain.OutcomeCanceled, true),
		entry("compensate:reserve_stock", domain.OutcomeSuccess, true),
	}

	target, inFlight := nextCompensation(entries, nil)
	if inFlight || target != nil {
		t.Errorf("got target=%+v inFlight=%v, want nothing left", target, inFlight)
	}
}

func TestNextCompensationHonorsSkip(t *testing.T) {
	entries := []domain.ProcessAuditEntry{
		entry("log_start", domain.OutcomeSuccess, true),
		entry("charge_card", domain.OutcomeSuccess, true),
		entry("ship_order", domain.OutcomeCanceled, true),
	}

	// charge_card undone out of band via skip: the planner moves deeper.
	target, _ := nextCompensation(entries, map[string]bool{"charge_card": true})
	if target == nil || target.StepName != "log_start" {
		t.Fatalf("target = %+v, want log_start", target)
	}
}

func TestAnyForwardCompleted(t *testing.T) {
	if anyForwardCompleted([]domain.ProcessAuditEntry{
		entry("first_step", domain.OutcomeCanceled, true),
	}) {
		t.Error("canceled-only history reported as completed")
	}
	if !anyForwardCompleted([]domain.ProcessAuditEntry{
		entry("first_step", domain.OutcomeSuccess, true),
		entry("second_step", domain.OutcomeCanceled, true),
	}) {
		t.Error("completed forward step not detected")
	}
	if anyForwardCompleted([]domain.ProcessAuditEntry{
		entry("compensate:first_step", domain.OutcomeSuccess, true),
	}) {
		t.Error("compensation row counted as forward progress")
	}
}

func TestCompensationNames(t *testing.T) {
	name := compensationName("charge_card")
	if name != "compensate:charge_card" {
		t.Errorf("compensationName = %q", name)
	}
	if !isCompensation(name) {
		t.Error("isCompensation(compensate:charge_card) = false")
	}
	if isCompensation("charge_card") {
		t.Error("isCompensation(charge_card) = true")
	}
	if got := compensatedStep(name); got != "charge_card" {
		t.Errorf("compensatedStep = %q", got)
	}
}
