package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/courier/internal/logging"
)

// notifySuffix turns a queue name into its LISTEN/NOTIFY channel.
const notifySuffix = "_notify"

// NotifyChannelFor returns the Postgres notification channel for a queue.
func NotifyChannelFor(queue string) string { return queue + notifySuffix }

// PGNotifier wakes consumers through PostgreSQL LISTEN/NOTIFY. Producers
// emit pg_notify inside the send transaction, so the signal only fires
// when the enqueue commits. One dedicated connection listens for all
// subscribed queues; if it drops, the listener reconnects and re-issues
// LISTEN, and polling covers the gap.
type PGNotifier struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	subs     map[string][]chan struct{}
	closed   bool
	relisten chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewPGNotifier starts the listener loop on a connection from pool.
func NewPGNotifier(pool *pgxpool.Pool) *PGNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &PGNotifier{
		pool:     pool,
		subs:     make(map[string][]chan struct{}),
		relisten: make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go n.listenLoop(ctx)
	return n
}

// Notify emits pg_notify on the queue's channel. Senders that already run
// inside a transaction should prefer emitting pg_notify there instead.
func (n *PGNotifier) Notify(ctx context.Context, queue string) error {
	_, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannelFor(queue), queue)
	return err
}

// Subscribe registers interest in a queue and returns the signal channel.
func (n *PGNotifier) Subscribe(ctx context.Context, queue string) <-chan struct{} {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(ch)
		return ch
	}
	n.subs[queue] = append(n.subs[queue], ch)
	n.mu.Unlock()
	n.kickListener()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subs[queue]
		for i, s := range subs {
			if s == ch {
				n.subs[queue] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}()

	return ch
}

// Close stops the listener and closes all subscriber channels.
func (n *PGNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	for _, subs := range n.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	n.subs = nil
	n.mu.Unlock()

	n.cancel()
	<-n.done
	return nil
}

func (n *PGNotifier) kickListener() {
	select {
	case n.relisten <- struct{}{}:
	default:
	}
}

func (n *PGNotifier) channels() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.subs))
	for q := range n.subs {
		out = append(out, q)
	}
	return out
}

func (n *PGNotifier) signal(queue string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[queue] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (n *PGNotifier) listenLoop(ctx context.Context) {
	defer close(n.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.listenOnce(ctx); err != nil && ctx.Err() == nil {
			logging.Op().Warn("pg notifier reconnecting", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// listenOnce holds one connection, LISTENs every subscribed queue and
// forwards notifications. It returns when the channel set changes (to
// re-issue LISTEN) or when the connection fails.
func (n *PGNotifier) listenOnce(ctx context.Context) error {
	queues := n.channels()
	if len(queues) == 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-n.relisten:
			return nil
		}
	}

	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	byChannel := make(map[string]string, len(queues))
	for _, q := range queues {
		ch := NotifyChannelFor(q)
		byChannel[ch] = q
		if _, err := conn.Exec(ctx, `LISTEN `+quoteIdent(ch)); err != nil {
			return err
		}
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-waitCtx.Done():
		case <-n.relisten:
			cancel()
		}
	}()

	for {
		note, err := conn.Conn().WaitForNotification(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				// Channel set changed; rebuild the LISTEN set.
				return nil
			}
			return err
		}
		if q, ok := byChannel[note.Channel]; ok {
			n.signal(q)
		}
	}
}

// quoteIdent double-quotes an identifier for LISTEN, which takes no
// bind parameters. Queue names are already validated lower_snake.
func quoteIdent(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, s[i])
	}
	return string(append(out, '"'))
}
