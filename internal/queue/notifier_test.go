package queue

import (
	"context"
	"testing"
	"time"
)

func TestChannelNotifierDelivers(t *testing.T) {
	n := NewChannelNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, "payments__commands")

	if err := n.Notify(ctx, "payments__commands"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive signal")
	}
}

func TestChannelNotifierQueueIsolation(t *testing.T) {
	n := NewChannelNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, "payments__commands")

	if err := n.Notify(ctx, "orders__commands"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("received signal for a different queue")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelNotifierCoalesces(t *testing.T) {
	n := NewChannelNotifier()
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, "q")

	// Multiple notifies before the subscriber drains must not block.
	for i := 0; i < 10; i++ {
		if err := n.Notify(ctx, "q"); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected at least one signal")
	}
}

func TestChannelNotifierCloseClosesSubscribers(t *testing.T) {
	n := NewChannelNotifier()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := n.Subscribe(ctx, "q")
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got signal")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}

	// Notify after Close is a no-op, not a panic.
	if err := n.Notify(ctx, "q"); err != nil {
		t.Fatalf("Notify after Close: %v", err)
	}
}

func TestNoopNotifierSubscribeClosesOnCancel(t *testing.T) {
	n := NewNoopNotifier()
	ctx, cancel := context.WithCancel(context.Background())

	ch := n.Subscribe(ctx, "q")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("noop notifier must never signal")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestNotifyChannelFor(t *testing.T) {
	if got := NotifyChannelFor("payments__commands"); got != "payments__commands_notify" {
		t.Errorf("NotifyChannelFor = %q", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	cases := map[string]string{
		"payments__commands_notify": `"payments__commands_notify"`,
		`odd"name`:                  `"odd""name"`,
	}
	for in, want := range cases {
		if got := quoteIdent(in); got != want {
			t.Errorf("quoteIdent(%q) = %q, want %q", in, got, want)
		}
	}
}
