package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
)

// SendBatch sends independent commands without aggregate tracking,
// chunked into transactions. Returned ids are positional; a duplicate
// command id yields the existing id at its position.
func (b *Bus) SendBatch(ctx context.Context, dom string, reqs []SendRequest, chunkSize int) ([]string, error) {
	if err := domain.CheckDomain(dom); err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = b.chunk
	}

	ids := make([]string, 0, len(reqs))
	for start := 0; start < len(reqs); start += chunkSize {
		end := start + chunkSize
		if end > len(reqs) {
			end = len(reqs)
		}

		tx, err := b.store.Pool().Begin(ctx)
		if err != nil {
			return ids, fmt.Errorf("begin send_batch tx: %w", err)
		}
		for i := start; i < end; i++ {
			reqs[i].Domain = dom
			id, err := b.SendTx(ctx, tx, reqs[i])
			if err == domain.ErrDuplicateCommand {
				ids = append(ids, reqs[i].CommandID)
				continue
			}
			if err != nil {
				tx.Rollback(ctx)
				return ids, err
			}
			ids = append(ids, id)
		}
		if err := tx.Commit(ctx); err != nil {
			return ids, fmt.Errorf("commit send_batch tx: %w", err)
		}
		b.notifyAfterCommit(dom)
	}
	return ids, nil
}

// BatchRequest describes a batch of commands to create and send.
type BatchRequest struct {
	Domain   string
	BatchID  string // generated when empty
	Name     string
	Type     domain.BatchType // defaults to COMMAND
	Commands []SendRequest    // Domain and BatchID fields are filled in
	// ChunkSize overrides the configured default when > 0.
	ChunkSize int
}

// CreateBatch creates the batch row and sends every member command in
// chunks, each chunk in its own transaction. The batch row rides in the
// first chunk's transaction, so a batch only exists once at least one
// chunk of its commands committed with it. Duplicate command ids are
// skipped; total_count still reflects the full request so progress is
// measured against intent, not against what happened to be new.
func (b *Bus) CreateBatch(ctx context.Context, req BatchRequest) (string, error) {
	if err := domain.CheckDomain(req.Domain); err != nil {
		return "", err
	}
	if len(req.Commands) == 0 {
		return "", fmt.Errorf("batch must contain at least one command")
	}
	if req.BatchID == "" {
		req.BatchID = uuid.NewString()
	}
	if req.Type == "" {
		req.Type = domain.BatchTypeCommand
	}
	chunk := req.ChunkSize
	if chunk <= 0 {
		chunk = b.chunk
	}

	batch := &domain.Batch{
		Domain:     req.Domain,
		BatchID:    req.BatchID,
		Name:       req.Name,
		BatchType:  req.Type,
		TotalCount: len(req.Commands),
	}

	for start := 0; start < len(req.Commands); start += chunk {
		end := start + chunk
		if end > len(req.Commands) {
			end = len(req.Commands)
		}
		insert := batch
		if start > 0 {
			insert = nil
		}
		if err := b.sendChunk(ctx, req.Domain, req.BatchID, insert, req.Commands[start:end]); err != nil {
			return req.BatchID, fmt.Errorf("batch %s chunk [%d:%d]: %w", req.BatchID, start, end, err)
		}
	}

	logging.Op().Info("batch created",
		"domain", req.Domain, "batch_id", req.BatchID,
		"total", len(req.Commands), "chunk_size", chunk)
	return req.BatchID, nil
}

// sendChunk runs one chunk in its own transaction; a non-nil batch is
// inserted in that same transaction before any of the commands.
func (b *Bus) sendChunk(ctx context.Context, dom, batchID string, batch *domain.Batch, cmds []SendRequest) error {
	tx, err := b.store.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := b.writeChunk(ctx, tx, dom, batchID, batch, cmds); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	b.notifyAfterCommit(dom)
	return nil
}

func (b *Bus) writeChunk(ctx context.Context, tx pgx.Tx, dom, batchID string, batch *domain.Batch, cmds []SendRequest) error {
	if batch != nil {
		if err := b.store.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}
	}
	for i := range cmds {
		cmds[i].Domain = dom
		cmds[i].BatchID = batchID
		if _, err := b.SendTx(ctx, tx, cmds[i]); err != nil {
			if err == domain.ErrDuplicateCommand {
				continue
			}
			return err
		}
	}
	return nil
}

// OnBatchComplete registers fn to run once when the batch is observed
// complete by a stats refresh. Callbacks are process-local; a restart
// loses them, the batch row does not.
func (b *Bus) OnBatchComplete(dom, batchID string, fn func(*domain.BatchStats)) {
	key := dom + "/" + batchID
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[key] = append(b.callbacks[key], fn)
}

// RefreshBatchStats re-aggregates the batch counters and fires completion
// callbacks the first time the batch is seen complete.
func (b *Bus) RefreshBatchStats(ctx context.Context, dom, batchID string) (*domain.BatchStats, error) {
	stats, err := b.store.RefreshBatchStats(ctx, dom, batchID)
	if err != nil {
		return nil, err
	}
	if stats.IsComplete {
		b.fireCompletion(dom, batchID, stats)
	}
	return stats, nil
}

func (b *Bus) fireCompletion(dom, batchID string, stats *domain.BatchStats) {
	key := dom + "/" + batchID
	b.mu.Lock()
	if b.fired[key] {
		b.mu.Unlock()
		return
	}
	b.fired[key] = true
	fns := b.callbacks[key]
	delete(b.callbacks, key)
	b.mu.Unlock()

	metrics.RecordBatchCompleted(dom, string(stats.Status))
	logging.Op().Info("batch complete",
		"domain", dom, "batch_id", batchID, "status", stats.Status,
		"completed", stats.Completed, "canceled", stats.Canceled,
		"failed", stats.Failed, "in_troubleshooting", stats.InTroubleshooting)
	for _, fn := range fns {
		fn(stats)
	}
}

// BatchWatcher periodically refreshes the stats of open batches so
// completion is detected (and callbacks fire) without anyone asking.
type BatchWatcher struct {
	bus      *Bus
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewBatchWatcher creates a watcher; call Start to begin polling.
func NewBatchWatcher(b *Bus, interval time.Duration) *BatchWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &BatchWatcher{bus: b, interval: interval, stopCh: make(chan struct{})}
}

// Start launches the watcher loop.
func (w *BatchWatcher) Start() {
	w.wg.Add(1)
	go w.loop()
	logging.Op().Info("batch watcher started", "interval", w.interval)
}

// Stop terminates the watcher and waits for the loop to exit.
func (w *BatchWatcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *BatchWatcher) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *BatchWatcher) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	open, err := w.bus.Store().ListOpenBatches(ctx, 0)
	if err != nil {
		logging.Op().Warn("batch watcher list failed", "error", err)
		return
	}
	for _, batch := range open {
		if _, err := w.bus.RefreshBatchStats(ctx, batch.Domain, batch.BatchID); err != nil {
			logging.Op().Warn("batch watcher refresh failed",
				"domain", batch.Domain, "batch_id", batch.BatchID, "error", err)
		}
	}
}
