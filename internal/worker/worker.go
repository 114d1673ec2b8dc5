// Package worker consumes a domain's command queue: it leases messages
// from PGMQ, runs registered handlers and drives each command through
// the lifecycle via the stored transition functions.
package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
	"github.com/oriys/courier/internal/pgmq"
	"github.com/oriys/courier/internal/queue"
	"github.com/oriys/courier/internal/store"
)

type traceSpan = trace.Span

// Worker polls one domain's command queue with a bounded concurrency
// pool. A notifier subscription shortens the poll latency; correctness
// never depends on it.
type Worker struct {
	domain      string
	queue       string
	store       *store.Store
	client      *pgmq.Client
	notifier    queue.Notifier
	registry    *registry
	cfg         config.WorkerConfig
	backoff     []time.Duration
	dispatchLog *logging.Logger

	sem    chan struct{}
	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	runWg  sync.WaitGroup
}

// New creates a worker for the domain's command queue.
func New(st *store.Store, notifier queue.Notifier, dom string, cfg config.WorkerConfig, busCfg config.BusConfig) (*Worker, error) {
	if err := domain.CheckDomain(dom); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = queue.NewNoopNotifier()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Worker{
		domain:      dom,
		queue:       domain.CommandQueue(dom),
		store:       st,
		client:      pgmq.New(st.Pool()),
		notifier:    notifier,
		registry:    newRegistry(),
		cfg:         cfg,
		backoff:     busCfg.BackoffDurations(),
		dispatchLog: logging.Default(),
		sem:         make(chan struct{}, cfg.Concurrency),
		stopCh:      make(chan struct{}),
		cancel:      func() {},
	}, nil
}

// Register binds a handler to a command type. Replacing a handler is
// allowed; callers usually register everything before Start.
func (w *Worker) Register(commandType string, h Handler) {
	w.registry.register(commandType, h)
}

// Start launches the poll loop.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	var notifyCh <-chan struct{}
	if w.cfg.UseNotify {
		notifyCh = w.notifier.Subscribe(ctx, w.queue)
	}

	w.runWg.Add(1)
	go w.run(ctx, notifyCh)
	logging.Op().Info("worker started",
		"domain", w.domain, "queue", w.queue,
		"concurrency", w.cfg.Concurrency, "poll_interval", w.cfg.PollInterval)
}

// Stop drains the worker: no new leases, in-flight handlers get the
// grace period, then their contexts are cancelled.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.runWg.Wait()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	grace := w.cfg.GracePeriod
	if grace <= 0 {
		grace = 20 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		logging.Op().Warn("grace period expired, cancelling in-flight handlers", "domain", w.domain)
		w.cancel()
		<-done
	}
	w.cancel()
	logging.Op().Info("worker stopped", "domain", w.domain)
}

func (w *Worker) run(ctx context.Context, notifyCh <-chan struct{}) {
	defer w.runWg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		case _, ok := <-notifyCh:
			if !ok {
				notifyCh = nil
				continue
			}
			metrics.RecordNotifyWakeup(w.queue)
		}
		w.drain(ctx)
	}
}

// drain leases as many messages as free handler slots allow and hands
// each to a goroutine. Returns when the queue is empty or the pool is
// saturated.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		free := cap(w.sem) - len(w.sem)
		if free == 0 {
			return
		}
		qty := w.cfg.BatchSize
		if qty > free {
			qty = free
		}

		msgs, err := w.client.Read(ctx, w.queue, w.cfg.VisibilityTimeout, qty)
		if err != nil {
			if ctx.Err() == nil {
				logging.Op().Error("queue read failed", "queue", w.queue, "error", err)
			}
			return
		}
		if len(msgs) == 0 {
			return
		}

		for _, m := range msgs {
			w.sem <- struct{}{}
			w.wg.Add(1)
			go func(m pgmq.Message) {
				defer func() {
					<-w.sem
					w.wg.Done()
				}()
				w.dispatch(ctx, m)
			}(m)
		}
	}
}
