// Package queue provides push-based wakeups for queue consumers. Workers
// always poll PGMQ on a ticker; a notifier only shortens the wait between
// a send and the next read from PollInterval to near-zero.
//
// Implementations:
//   - NoopNotifier: never signals; workers rely purely on polling
//   - ChannelNotifier: in-process, for single-instance deployments
//   - PGNotifier: LISTEN/NOTIFY on the same PostgreSQL, transactional senders
//   - RedisNotifier: Redis PUBLISH/SUBSCRIBE for multi-instance deployments
package queue

import (
	"context"
	"sync"
)

// Notifier wakes up consumers of a named queue. A signal means "there may
// be work"; the consumer still reads through PGMQ, so lost signals only
// cost latency, never correctness.
type Notifier interface {
	// Notify signals that new work may be available on the queue.
	Notify(ctx context.Context, queue string) error

	// Subscribe returns a channel receiving signals for the queue. The
	// channel is closed when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, queue string) <-chan struct{}

	// Close releases all resources held by the notifier.
	Close() error
}

// NoopNotifier never sends notifications; workers fall back to polling.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) Notify(_ context.Context, _ string) error { return nil }

func (n *NoopNotifier) Subscribe(ctx context.Context, _ string) <-chan struct{} {
	// Never written to; closed on context cancellation to avoid leaks.
	ch := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (n *NoopNotifier) Close() error { return nil }

// ChannelNotifier is an in-process notifier for single-instance
// deployments. Near-zero latency without external infrastructure.
type ChannelNotifier struct {
	mu          sync.Mutex
	subscribers map[string][]chan struct{}
	closed      bool
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{
		subscribers: make(map[string][]chan struct{}),
	}
}

func (n *ChannelNotifier) Notify(_ context.Context, queue string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	for _, ch := range n.subscribers[queue] {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending signal.
		}
	}
	return nil
}

func (n *ChannelNotifier) Subscribe(ctx context.Context, queue string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	n.subscribers[queue] = append(n.subscribers[queue], ch)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subscribers[queue]
		for i, s := range subs {
			if s == ch {
				n.subscribers[queue] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}()

	return ch
}

func (n *ChannelNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for _, subs := range n.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	n.subscribers = nil
	return nil
}
