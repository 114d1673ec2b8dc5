package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/oriys/courier/internal/domain"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name        string
		kind        domain.ErrorKind
		attempts    int
		maxAttempts int
		want        action
	}{
		{"transient with budget left", domain.ErrorKindTransient, 1, 3, actionRetry},
		{"transient on last attempt", domain.ErrorKindTransient, 3, 3, actionTroubleshoot},
		{"transient over budget", domain.ErrorKindTransient, 4, 3, actionTroubleshoot},
		{"permanent first attempt", domain.ErrorKindPermanent, 1, 3, actionTroubleshoot},
		{"business rule", domain.ErrorKindBusinessRule, 1, 3, actionFail},
		{"business rule late", domain.ErrorKindBusinessRule, 3, 3, actionFail},
	}
	for _, c := range cases {
		if got := decide(c.kind, c.attempts, c.maxAttempts); got != c.want {
			t.Errorf("%s: decide = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestBackoffFor(t *testing.T) {
	schedule := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 5 * time.Second},
		{3, 30 * time.Second},
		{4, 30 * time.Second}, // schedule exhausted, last entry repeats
		{0, time.Second},
	}
	for _, c := range cases {
		if got := backoffFor(schedule, c.attempt); got != c.want {
			t.Errorf("backoffFor(attempt=%d) = %v, want %v", c.attempt, got, c.want)
		}
	}

	if got := backoffFor(nil, 1); got != 30*time.Second {
		t.Errorf("backoffFor(nil) = %v, want 30s fallback", got)
	}
}

func TestHandlerTimeoutStaysInsideLease(t *testing.T) {
	cases := []struct {
		vt   time.Duration
		want time.Duration
	}{
		{30 * time.Second, 22500 * time.Millisecond}, // 3/4 of 30s
		{8 * time.Second, 6 * time.Second},           // vt-2s for short leases
		{2 * time.Second, 1500 * time.Millisecond},   // never non-positive
	}
	for _, c := range cases {
		got := handlerTimeout(c.vt)
		if got != c.want {
			t.Errorf("handlerTimeout(%v) = %v, want %v", c.vt, got, c.want)
		}
		if got >= c.vt {
			t.Errorf("handlerTimeout(%v) = %v, not inside the lease", c.vt, got)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	r := newRegistry()

	if _, ok := r.lookup("ChargeCard"); ok {
		t.Fatal("lookup on empty registry returned a handler")
	}

	r.register("ChargeCard", func(ctx context.Context, cmd *domain.Command, msg *domain.CommandMessage) (json.RawMessage, error) {
		return nil, nil
	})

	if _, ok := r.lookup("ChargeCard"); !ok {
		t.Error("registered handler not found")
	}
	if _, ok := r.lookup("RefundCard"); ok {
		t.Error("lookup returned handler for unregistered type")
	}
}
