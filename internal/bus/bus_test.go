package bus

import (
	"testing"

	"github.com/google/uuid"

	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/domain"
)

func newTestBus() *Bus {
	cfg := config.DefaultConfig()
	return New(nil, nil, cfg.Bus, cfg.Batch)
}

func TestNormalizeDefaults(t *testing.T) {
	b := newTestBus()

	req := SendRequest{Domain: "payments", Type: "ChargeCard"}
	if err := b.normalize(&req); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, err := uuid.Parse(req.CommandID); err != nil {
		t.Errorf("generated command id %q is not a UUID", req.CommandID)
	}
	if req.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", req.MaxAttempts)
	}
	if string(req.Payload) != "{}" {
		t.Errorf("Payload = %q, want empty object", req.Payload)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	b := newTestBus()

	cases := []SendRequest{
		{Domain: "", Type: "X"},
		{Domain: "Payments", Type: "X"},
		{Domain: "pay__ments", Type: "X"},
		{Domain: "payments", Type: ""},
		{Domain: "payments", Type: "X", CommandID: "not-a-uuid"},
	}
	for _, req := range cases {
		if err := b.normalize(&req); err == nil {
			t.Errorf("normalize(%+v) = nil, want error", req)
		}
	}
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	b := newTestBus()

	id := uuid.NewString()
	req := SendRequest{
		Domain:      "orders",
		Type:        "ReserveStock",
		CommandID:   id,
		MaxAttempts: 7,
		Payload:     []byte(`{"sku":"A1"}`),
	}
	if err := b.normalize(&req); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.CommandID != id {
		t.Errorf("CommandID changed to %q", req.CommandID)
	}
	if req.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", req.MaxAttempts)
	}
}

func TestBatchCompletionFiresOnce(t *testing.T) {
	b := newTestBus()

	var calls int
	b.OnBatchComplete("payments", "batch-1", func(st *domain.BatchStats) {
		calls++
		if st.Status != domain.BatchStatusCompleted {
			t.Errorf("callback status = %s", st.Status)
		}
	})

	stats := &domain.BatchStats{
		Domain:     "payments",
		BatchID:    "batch-1",
		Total:      2,
		Completed:  2,
		IsComplete: true,
		Status:     domain.BatchStatusCompleted,
	}
	b.fireCompletion("payments", "batch-1", stats)
	b.fireCompletion("payments", "batch-1", stats)

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestBatchCompletionLateRegistration(t *testing.T) {
	b := newTestBus()

	stats := &domain.BatchStats{IsComplete: true, Status: domain.BatchStatusCompletedWithFailures}
	b.fireCompletion("orders", "batch-2", stats)

	// A callback registered after completion was observed never fires;
	// callers should check the batch row first.
	var calls int
	b.OnBatchComplete("orders", "batch-2", func(*domain.BatchStats) { calls++ })
	b.fireCompletion("orders", "batch-2", stats)

	if calls != 0 {
		t.Errorf("late callback ran %d times, want 0", calls)
	}
}
