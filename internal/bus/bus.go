// Package bus is the producer and operator surface of the command bus:
// transactional sends, batch creation and stats, and the troubleshooting
// queue operations. Workers live in the worker package; the bus never
// consumes command queues itself.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
	"github.com/oriys/courier/internal/observability"
	"github.com/oriys/courier/internal/pgmq"
	"github.com/oriys/courier/internal/queue"
	"github.com/oriys/courier/internal/store"
)

// Bus is the producer-side API.
type Bus struct {
	store    *store.Store
	notifier queue.Notifier
	cfg      config.BusConfig
	chunk    int

	mu        sync.Mutex
	callbacks map[string][]func(*domain.BatchStats)
	fired     map[string]bool
}

// New creates a Bus over the given store. The notifier may be nil, in
// which case only the transactional pg_notify signal is emitted.
func New(st *store.Store, notifier queue.Notifier, cfg config.BusConfig, batchCfg config.BatchConfig) *Bus {
	if notifier == nil {
		notifier = queue.NewNoopNotifier()
	}
	chunk := batchCfg.DefaultChunkSize
	if chunk <= 0 {
		chunk = 1000
	}
	return &Bus{
		store:     st,
		notifier:  notifier,
		cfg:       cfg,
		chunk:     chunk,
		callbacks: make(map[string][]func(*domain.BatchStats)),
		fired:     make(map[string]bool),
	}
}

// Store exposes the underlying store for read-side callers.
func (b *Bus) Store() *store.Store { return b.store }

// SendRequest describes one command to send.
type SendRequest struct {
	Domain        string
	CommandID     string // generated when empty
	Type          string
	Payload       json.RawMessage
	CorrelationID string
	ReplyTo       string // reply queue name, empty means fire-and-forget
	MaxAttempts   int    // 0 means the configured default
	BatchID       string
}

func (b *Bus) normalize(req *SendRequest) error {
	if err := domain.CheckDomain(req.Domain); err != nil {
		return err
	}
	if req.Type == "" {
		return fmt.Errorf("command type is required")
	}
	if req.CommandID == "" {
		req.CommandID = uuid.NewString()
	} else if _, err := uuid.Parse(req.CommandID); err != nil {
		return fmt.Errorf("command id %q is not a UUID: %w", req.CommandID, err)
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = b.cfg.DefaultMaxAttempts
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage(`{}`)
	}
	return nil
}

// Send enqueues one command in its own transaction and returns the
// command id. A resend of the same (domain, command id) fails with
// ErrDuplicateCommand: the transaction rolls back and no second message
// is enqueued, so the caller learns its payload was not accepted.
func (b *Bus) Send(ctx context.Context, req SendRequest) (string, error) {
	tx, err := b.store.Pool().Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin send tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id, err := b.SendTx(ctx, tx, req)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit send tx: %w", err)
	}
	b.notifyAfterCommit(req.Domain)
	return id, nil
}

// SendTx enqueues a command inside a caller-owned transaction, so the
// send commits or rolls back atomically with the caller's own writes.
// The caller commits; the wakeup signal only fires via pg_notify (which
// Postgres delivers on commit) unless NotifySent is called afterwards.
func (b *Bus) SendTx(ctx context.Context, tx pgx.Tx, req SendRequest) (string, error) {
	if err := b.normalize(&req); err != nil {
		return "", err
	}

	ctx, span := observability.StartSpan(ctx, "bus.send",
		observability.AttrDomain.String(req.Domain),
		observability.AttrCommandID.String(req.CommandID),
		observability.AttrCommandType.String(req.Type),
	)
	defer span.End()

	start := time.Now()
	cmd := &domain.Command{
		Domain:        req.Domain,
		CommandID:     req.CommandID,
		CommandType:   req.Type,
		MaxAttempts:   req.MaxAttempts,
		CorrelationID: req.CorrelationID,
		ReplyQueue:    req.ReplyTo,
		BatchID:       req.BatchID,
	}
	if err := b.store.InsertCommand(ctx, tx, cmd); err != nil {
		if err != domain.ErrDuplicateCommand {
			observability.SetSpanError(span, err)
		}
		return "", err
	}

	msg := domain.CommandMessage{
		CommandID:     req.CommandID,
		Type:          req.Type,
		Domain:        req.Domain,
		CorrelationID: req.CorrelationID,
		ReplyTo:       req.ReplyTo,
		CreatedAt:     time.Now().UTC(),
		Data:          req.Payload,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		observability.SetSpanError(span, err)
		return "", fmt.Errorf("encode command message: %w", err)
	}

	cmdQueue := domain.CommandQueue(req.Domain)
	msgID, err := pgmq.New(tx).Send(ctx, cmdQueue, body)
	if err != nil {
		observability.SetSpanError(span, err)
		return "", err
	}
	if err := b.store.SetCommandMessageID(ctx, tx, req.Domain, req.CommandID, msgID); err != nil {
		observability.SetSpanError(span, err)
		return "", err
	}

	details, _ := json.Marshal(map[string]any{"msg_id": msgID, "type": req.Type})
	if err := b.store.AppendAudit(ctx, tx, req.Domain, req.CommandID, domain.AuditSent, details); err != nil {
		observability.SetSpanError(span, err)
		return "", err
	}

	// Delivered by Postgres only when the transaction commits.
	channel := domain.NotifyChannel(cmdQueue)
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, cmdQueue); err != nil {
		observability.SetSpanError(span, err)
		return "", fmt.Errorf("pg_notify %s: %w", channel, err)
	}

	metrics.RecordSend(req.Domain, req.Type, time.Since(start))
	observability.SetSpanOK(span)
	logging.Op().Debug("command sent",
		"domain", req.Domain, "command_id", req.CommandID,
		"type", req.Type, "msg_id", msgID)
	return req.CommandID, nil
}

// NotifySent pushes a wakeup through the configured notifier. Callers of
// SendTx should invoke it after their transaction commits; Send does so
// itself.
func (b *Bus) NotifySent(ctx context.Context, dom string) {
	if err := b.notifier.Notify(ctx, domain.CommandQueue(dom)); err != nil {
		logging.Op().Warn("notify failed", "domain", dom, "error", err)
	}
}

func (b *Bus) notifyAfterCommit(dom string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.NotifySent(ctx, dom)
}

// GetCommand returns the metadata row of a command.
func (b *Bus) GetCommand(ctx context.Context, dom, commandID string) (*domain.Command, error) {
	return b.store.GetCommand(ctx, dom, commandID)
}

// GetAudit returns the full audit trail of a command.
func (b *Bus) GetAudit(ctx context.Context, dom, commandID string) ([]domain.AuditEntry, error) {
	return b.store.ListAudit(ctx, dom, commandID)
}

// EnsureTopology creates the command, reply and process-reply queues for
// each domain. Safe to call repeatedly.
func (b *Bus) EnsureTopology(ctx context.Context, domains ...string) error {
	client := pgmq.New(b.store.Pool())
	for _, d := range domains {
		if err := domain.CheckDomain(d); err != nil {
			return err
		}
		for _, q := range []string{domain.CommandQueue(d), domain.ReplyQueue(d), domain.ProcessReplyQueue(d)} {
			if err := client.CreateQueue(ctx, q); err != nil {
				return err
			}
		}
		logging.Op().Info("topology ensured", "domain", d)
	}
	return nil
}
