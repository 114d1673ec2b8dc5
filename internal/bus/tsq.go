package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
	"github.com/oriys/courier/internal/pgmq"
)

// ListTroubleshooting lists commands parked for operator intervention.
func (b *Bus) ListTroubleshooting(ctx context.Context, dom string, limit int) ([]domain.Command, error) {
	return b.store.ListTroubleshooting(ctx, dom, limit)
}

func (b *Bus) requireInTroubleshooting(ctx context.Context, dom, commandID string) (*domain.Command, error) {
	cmd, err := b.store.GetCommand(ctx, dom, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != domain.CommandStatusInTroubleshooting {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrNotInTroubleshooting, cmd.Status)
	}
	return cmd, nil
}

// OperatorRetry puts a troubleshooting command back on its queue with the
// original payload. The attempt counter resets when configured so the
// command gets a full retry budget again.
func (b *Bus) OperatorRetry(ctx context.Context, dom, commandID string) error {
	cmd, err := b.requireInTroubleshooting(ctx, dom, commandID)
	if err != nil {
		return err
	}

	body, err := b.originalPayload(ctx, cmd)
	if err != nil {
		return err
	}

	tx, err := b.store.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin retry tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := b.store.ResetCommandForRetry(ctx, tx, dom, commandID, b.cfg.RetryResetsAttempts); err != nil {
		return err
	}

	cmdQueue := domain.CommandQueue(dom)
	msgID, err := pgmq.New(tx).Send(ctx, cmdQueue, body)
	if err != nil {
		return err
	}
	if err := b.store.SetCommandMessageID(ctx, tx, dom, commandID, msgID); err != nil {
		return err
	}
	details, _ := json.Marshal(map[string]any{"msg_id": msgID, "reset_attempts": b.cfg.RetryResetsAttempts})
	if err := b.store.AppendAudit(ctx, tx, dom, commandID, domain.AuditOperatorRetry, details); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, domain.NotifyChannel(cmdQueue), cmdQueue); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit retry tx: %w", err)
	}
	b.notifyAfterCommit(dom)

	if cmd.BatchID != "" {
		if err := b.store.ApplyTSQCounter(ctx, dom, cmd.BatchID, "retry"); err != nil {
			logging.Op().Warn("batch counter update failed", "batch_id", cmd.BatchID, "error", err)
		}
	}
	metrics.RecordOperatorAction(dom, "retry")
	logging.Op().Info("operator retry", "domain", dom, "command_id", commandID, "msg_id", msgID)
	return nil
}

// OperatorCancel closes a troubleshooting command as CANCELED and, when
// the sender asked for a reply, publishes a CANCELED reply.
func (b *Bus) OperatorCancel(ctx context.Context, dom, commandID, reason string) error {
	if _, err := b.requireInTroubleshooting(ctx, dom, commandID); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]any{"reason": reason})
	cmd, err := b.store.FinishCommand(ctx, dom, commandID,
		domain.CommandStatusCanceled, domain.AuditOperatorCancel, nil, details)
	if err != nil {
		return err
	}

	replyErr := &domain.ReplyError{
		Code:    "OPERATOR_CANCELED",
		Message: reason,
		Class:   string(domain.ErrorKindPermanent),
	}
	if err := b.publishReply(ctx, cmd, domain.OutcomeCanceled, nil, replyErr); err != nil {
		logging.Op().Warn("cancel reply failed", "domain", dom, "command_id", commandID, "error", err)
	}

	if cmd.BatchID != "" {
		if err := b.store.ApplyTSQCounter(ctx, dom, cmd.BatchID, "cancel"); err != nil {
			logging.Op().Warn("batch counter update failed", "batch_id", cmd.BatchID, "error", err)
		}
	}
	metrics.RecordOperatorAction(dom, "cancel")
	logging.Op().Info("operator cancel", "domain", dom, "command_id", commandID, "reason", reason)
	return nil
}

// OperatorComplete closes a troubleshooting command as COMPLETED with an
// operator-supplied result, publishing a SUCCESS reply when asked for.
// Used when the work was done out of band.
func (b *Bus) OperatorComplete(ctx context.Context, dom, commandID string, result json.RawMessage) error {
	if _, err := b.requireInTroubleshooting(ctx, dom, commandID); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]any{"out_of_band": true})
	cmd, err := b.store.FinishCommand(ctx, dom, commandID,
		domain.CommandStatusCompleted, domain.AuditOperatorComplete, nil, details)
	if err != nil {
		return err
	}

	if err := b.publishReply(ctx, cmd, domain.OutcomeSuccess, result, nil); err != nil {
		logging.Op().Warn("complete reply failed", "domain", dom, "command_id", commandID, "error", err)
	}

	if cmd.BatchID != "" {
		if err := b.store.ApplyTSQCounter(ctx, dom, cmd.BatchID, "complete"); err != nil {
			logging.Op().Warn("batch counter update failed", "batch_id", cmd.BatchID, "error", err)
		}
	}
	metrics.RecordOperatorAction(dom, "complete")
	logging.Op().Info("operator complete", "domain", dom, "command_id", commandID)
	return nil
}

// originalPayload recovers the message body of a troubleshooting command,
// preferring the payload archive and falling back to the queue's archive
// table.
func (b *Bus) originalPayload(ctx context.Context, cmd *domain.Command) (json.RawMessage, error) {
	body, err := b.store.GetArchivedPayload(ctx, cmd.Domain, cmd.CommandID)
	if err == nil {
		return body, nil
	}
	if !errors.Is(err, domain.ErrPayloadUnavailable) {
		return nil, err
	}
	if cmd.QueueMessageID == nil {
		return nil, domain.ErrPayloadUnavailable
	}
	body, err = pgmq.New(b.store.Pool()).ReadArchived(ctx, domain.CommandQueue(cmd.Domain), *cmd.QueueMessageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPayloadUnavailable, err)
	}
	return body, nil
}
