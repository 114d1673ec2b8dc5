package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
	"github.com/oriys/courier/internal/pgmq"
	"github.com/oriys/courier/internal/queue"
)

// Router consumes a domain's process reply queue and advances processes.
// Replies are handled one at a time; a reply message is only deleted
// after the state transition committed, so a crash replays it and the
// received_at guard makes the replay a no-op.
type Router struct {
	manager  *Manager
	queue    string
	client   *pgmq.Client
	notifier queue.Notifier
	cfg      config.WorkerConfig

	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter creates the reply router for the manager's domain.
func NewRouter(m *Manager, notifier queue.Notifier, cfg config.WorkerConfig) *Router {
	if notifier == nil {
		notifier = queue.NewNoopNotifier()
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Router{
		manager:  m,
		queue:    domain.ProcessReplyQueue(m.domain),
		client:   pgmq.New(m.store.Pool()),
		notifier: notifier,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		cancel:   func() {},
	}
}

// Start launches the reply loop.
func (r *Router) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	var notifyCh <-chan struct{}
	if r.cfg.UseNotify {
		notifyCh = r.notifier.Subscribe(ctx, r.queue)
	}

	r.wg.Add(1)
	go r.run(ctx, notifyCh)
	logging.Op().Info("process router started", "domain", r.manager.domain, "queue", r.queue)
}

// Stop terminates the loop and waits for the in-flight reply to finish.
func (r *Router) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.cancel()
	logging.Op().Info("process router stopped", "domain", r.manager.domain)
}

func (r *Router) run(ctx context.Context, notifyCh <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
		case _, ok := <-notifyCh:
			if !ok {
				notifyCh = nil
				continue
			}
			metrics.RecordNotifyWakeup(r.queue)
		}
		r.drain(ctx)
	}
}

func (r *Router) drain(ctx context.Context) {
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		msgs, err := r.client.Read(ctx, r.queue, r.cfg.VisibilityTimeout, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() == nil {
				logging.Op().Error("reply read failed", "queue", r.queue, "error", err)
			}
			return
		}
		if len(msgs) == 0 {
			return
		}

		for _, m := range msgs {
			if err := r.handleReply(ctx, m); err != nil {
				// Leave the message leased; the lease expiry retries it.
				logging.Op().Error("reply handling failed", "msg_id", m.MsgID, "error", err)
				continue
			}
			if _, err := r.client.Delete(ctx, r.queue, m.MsgID); err != nil {
				logging.Op().Error("reply delete failed", "msg_id", m.MsgID, "error", err)
			}
		}
	}
}

// handleReply applies one reply to its process. A nil return means the
// message can be deleted.
func (r *Router) handleReply(ctx context.Context, m pgmq.Message) error {
	reply, err := domain.ParseReply(m.Body)
	if err != nil {
		logging.Op().Error("malformed reply archived", "queue", r.queue, "msg_id", m.MsgID, "error", err)
		if _, aerr := r.client.Archive(ctx, r.queue, m.MsgID); aerr != nil {
			return aerr
		}
		return nil
	}

	entry, err := r.manager.store.MarkProcessReply(ctx, r.manager.domain, reply.CommandID, reply.Outcome, reply.Data)
	if err != nil {
		return err
	}
	if entry == nil {
		// Duplicate delivery, or a reply for a command this router does
		// not own. Either way there is nothing left to apply.
		return nil
	}

	proc, err := r.manager.store.GetProcess(ctx, r.manager.domain, entry.ProcessID)
	if err != nil {
		return err
	}
	if proc.Status.IsTerminal() {
		return nil
	}

	def, err := r.manager.definition(proc.ProcessType)
	if err != nil {
		return err
	}

	metrics.RecordProcessReply(r.manager.domain, string(reply.Outcome))
	logging.Op().Debug("process reply",
		"domain", r.manager.domain, "process_id", proc.ProcessID,
		"step", entry.StepName, "outcome", reply.Outcome)

	if isCompensation(entry.StepName) {
		return r.applyCompensationReply(ctx, def, proc, entry, reply)
	}
	return r.applyForwardReply(ctx, def, proc, entry, reply)
}

func (r *Router) applyForwardReply(ctx context.Context, def Definition, proc *domain.Process, entry *domain.ProcessAuditEntry, reply *domain.Reply) error {
	switch reply.Outcome {
	case domain.OutcomeSuccess:
		if proc.Status == domain.ProcessStatusCompensating {
			// A step finished after compensation began; it gets undone too.
			return r.continueCompensation(ctx, def, proc)
		}
		newState, next, err := def.NextStep(proc.State, entry.StepName, reply)
		if err != nil {
			return r.failProcess(ctx, proc, "STEP_TRANSITION", err.Error())
		}
		if newState != nil {
			proc.State = newState
		}
		if next == nil {
			proc.Status = domain.ProcessStatusCompleted
			proc.CurrentStep = ""
			if err := r.manager.store.UpdateProcess(ctx, proc); err != nil {
				return err
			}
			logging.Op().Info("process completed", "domain", r.manager.domain, "process_id", proc.ProcessID)
			return nil
		}
		return r.manager.executeStep(ctx, proc, *next)

	case domain.OutcomeFailed:
		// The step command is parked in the troubleshooting queue (or
		// failed terminally); an operator decides what happens next.
		return r.waitForOperator(ctx, proc, reply)

	case domain.OutcomeCanceled:
		proc.Status = domain.ProcessStatusCompensating
		if reply.Error != nil {
			proc.LastError = &domain.ErrorInfo{Kind: reply.Error.Class, Code: reply.Error.Code, Message: reply.Error.Message}
		}
		return r.continueCompensation(ctx, def, proc)

	default:
		return fmt.Errorf("unknown reply outcome %q", reply.Outcome)
	}
}

func (r *Router) applyCompensationReply(ctx context.Context, def Definition, proc *domain.Process, entry *domain.ProcessAuditEntry, reply *domain.Reply) error {
	switch reply.Outcome {
	case domain.OutcomeSuccess:
		return r.continueCompensation(ctx, def, proc)
	case domain.OutcomeFailed:
		return r.waitForOperator(ctx, proc, reply)
	case domain.OutcomeCanceled:
		// An operator gave up on the undo; the process cannot reach a
		// clean state on its own.
		code, msg := "COMPENSATION_CANCELED", "compensation step canceled by operator"
		if reply.Error != nil {
			msg = reply.Error.Message
		}
		return r.failProcess(ctx, proc, code, msg)
	default:
		return fmt.Errorf("unknown reply outcome %q", reply.Outcome)
	}
}

// continueCompensation sends the next undo command, or closes the
// process when nothing is left to undo.
func (r *Router) continueCompensation(ctx context.Context, def Definition, proc *domain.Process) error {
	entries, err := r.manager.store.ListProcessAudit(ctx, r.manager.domain, proc.ProcessID)
	if err != nil {
		return err
	}

	proc.Status = domain.ProcessStatusCompensating
	skip := make(map[string]bool)
	for {
		target, inFlight := nextCompensation(entries, skip)
		if inFlight {
			return r.manager.store.UpdateProcess(ctx, proc)
		}
		if target == nil {
			if anyForwardCompleted(entries) {
				proc.Status = domain.ProcessStatusCompensated
			} else {
				proc.Status = domain.ProcessStatusCanceled
			}
			proc.CurrentStep = ""
			if err := r.manager.store.UpdateProcess(ctx, proc); err != nil {
				return err
			}
			logging.Op().Info("process closed after cancellation",
				"domain", r.manager.domain, "process_id", proc.ProcessID, "status", proc.Status)
			return nil
		}

		undo := def.CompensationStep(proc.State, target.StepName, target.CommandData)
		if undo == nil {
			skip[target.StepName] = true
			continue
		}
		step := Step{
			Name:        compensationName(target.StepName),
			CommandType: undo.CommandType,
			Data:        undo.Data,
		}
		return r.manager.executeStep(ctx, proc, step)
	}
}

func (r *Router) waitForOperator(ctx context.Context, proc *domain.Process, reply *domain.Reply) error {
	proc.Status = domain.ProcessStatusWaitingForTSQ
	if reply.Error != nil {
		proc.LastError = &domain.ErrorInfo{Kind: reply.Error.Class, Code: reply.Error.Code, Message: reply.Error.Message}
	}
	return r.manager.store.UpdateProcess(ctx, proc)
}

func (r *Router) failProcess(ctx context.Context, proc *domain.Process, code, msg string) error {
	proc.Status = domain.ProcessStatusFailed
	proc.LastError = &domain.ErrorInfo{Kind: string(domain.ErrorKindPermanent), Code: code, Message: msg}
	if err := r.manager.store.UpdateProcess(ctx, proc); err != nil {
		return err
	}
	logging.Op().Warn("process failed",
		"domain", r.manager.domain, "process_id", proc.ProcessID, "code", code, "error", msg)
	return nil
}
