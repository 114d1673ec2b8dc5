package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/courier/internal/bus"
	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
	"github.com/oriys/courier/internal/observability"
	"github.com/oriys/courier/internal/pgmq"
)

// action is the outcome decision for a failed attempt.
type action int

const (
	actionRetry action = iota
	actionTroubleshoot
	actionFail
)

// decide maps a classified failure and the attempt count to the next
// move. Transient errors retry until the budget is spent, then park for
// an operator. Permanent errors park immediately. Business rule errors
// fail terminally and never reach the troubleshooting queue.
func decide(kind domain.ErrorKind, attempts, maxAttempts int) action {
	switch kind {
	case domain.ErrorKindBusinessRule:
		return actionFail
	case domain.ErrorKindPermanent:
		return actionTroubleshoot
	default:
		if attempts >= maxAttempts {
			return actionTroubleshoot
		}
		return actionRetry
	}
}

// backoffFor returns the visibility delay before the next attempt.
// attempt is 1-based; schedules shorter than the attempt count repeat
// their last entry.
func backoffFor(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 30 * time.Second
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}

// handlerTimeout keeps the handler deadline inside the message lease so
// a slow handler cannot overlap its own redelivery.
func handlerTimeout(vt time.Duration) time.Duration {
	withMargin := vt - 2*time.Second
	threeQuarters := vt * 3 / 4
	if withMargin < threeQuarters {
		if withMargin <= 0 {
			return threeQuarters
		}
		return withMargin
	}
	return threeQuarters
}

// dispatch runs the full lifecycle for one leased message.
func (w *Worker) dispatch(ctx context.Context, m pgmq.Message) {
	msg, err := domain.ParseCommandMessage(m.Body)
	if err != nil {
		// Poison message: no way to find the command row. Park the body
		// in the queue archive and move on.
		logging.Op().Error("malformed command message archived",
			"queue", w.queue, "msg_id", m.MsgID, "error", err)
		if _, aerr := w.client.Archive(ctx, w.queue, m.MsgID); aerr != nil {
			logging.Op().Error("archive malformed message failed", "msg_id", m.MsgID, "error", aerr)
		}
		return
	}

	ctx, span := observability.StartConsumerSpan(ctx, "worker.dispatch",
		observability.AttrDomain.String(w.domain),
		observability.AttrCommandID.String(msg.CommandID),
		observability.AttrCommandType.String(msg.Type),
		observability.AttrMsgID.Int64(m.MsgID),
	)
	defer span.End()

	cmd, err := w.store.ReceiveCommand(ctx, w.domain, msg.CommandID, m.MsgID)
	if err != nil {
		// Leave the message leased; it reappears after the visibility
		// timeout and the receive runs again.
		observability.SetSpanError(span, err)
		logging.Op().Error("receive failed", "command_id", msg.CommandID, "error", err)
		return
	}
	if cmd == nil {
		// Redelivery of an already finished command.
		if _, err := w.client.Delete(ctx, w.queue, m.MsgID); err != nil {
			logging.Op().Error("stale delete failed", "msg_id", m.MsgID, "error", err)
			return
		}
		metrics.RecordStaleDelete(w.domain)
		span.SetAttributes(observability.AttrOutcome.String("stale"))
		observability.SetSpanOK(span)
		return
	}
	span.SetAttributes(observability.AttrAttempt.Int(cmd.Attempts))

	handler, ok := w.registry.lookup(msg.Type)
	var (
		result     json.RawMessage
		handlerErr error
		started    = time.Now()
	)
	if !ok {
		handlerErr = domain.Permanent("NO_HANDLER", "no handler registered for "+msg.Type)
	} else {
		hctx, cancel := context.WithTimeout(ctx, handlerTimeout(w.cfg.VisibilityTimeout))
		metrics.IncInFlight(w.domain)
		result, handlerErr = handler(hctx, cmd, msg)
		metrics.DecInFlight(w.domain)
		cancel()
	}
	elapsed := time.Since(started)

	if handlerErr == nil {
		w.finishSuccess(ctx, span, cmd, m, result, elapsed)
		return
	}
	w.finishFailure(ctx, span, cmd, msg, m, handlerErr, elapsed)
}

func (w *Worker) finishSuccess(ctx context.Context, span traceSpan, cmd *domain.Command, m pgmq.Message, result json.RawMessage, elapsed time.Duration) {
	if _, err := w.client.Delete(ctx, w.queue, m.MsgID); err != nil {
		// The handler succeeded but the ack failed; the redelivery will
		// be dropped as stale once the finish below commits.
		logging.Op().Error("ack delete failed", "msg_id", m.MsgID, "error", err)
	}

	details, _ := json.Marshal(map[string]any{"duration_ms": elapsed.Milliseconds()})
	finished, err := w.store.FinishCommand(ctx, w.domain, cmd.CommandID,
		domain.CommandStatusCompleted, domain.AuditCompleted, nil, details)
	if err != nil {
		observability.SetSpanError(span, err)
		logging.Op().Error("finish completed failed", "command_id", cmd.CommandID, "error", err)
		return
	}

	if err := bus.PublishReply(ctx, w.client, w.notifier, finished, domain.OutcomeSuccess, result, nil); err != nil {
		logging.Op().Error("success reply failed", "command_id", cmd.CommandID, "error", err)
	}

	metrics.RecordDispatch(w.domain, cmd.CommandType, "success", elapsed)
	span.SetAttributes(observability.AttrOutcome.String("success"))
	observability.SetSpanOK(span)
	w.log(cmd, m, "success", elapsed, "", false)
}

func (w *Worker) finishFailure(ctx context.Context, span traceSpan, cmd *domain.Command, msg *domain.CommandMessage, m pgmq.Message, handlerErr error, elapsed time.Duration) {
	errInfo := domain.ErrorInfoFrom(handlerErr)
	kind := domain.Classify(handlerErr)
	observability.SetSpanError(span, handlerErr)

	switch decide(kind, cmd.Attempts, cmd.MaxAttempts) {
	case actionRetry:
		delay := backoffFor(w.backoff, cmd.Attempts)
		if err := w.store.FailCommand(ctx, w.domain, cmd.CommandID, errInfo, cmd.Attempts, cmd.MaxAttempts, m.MsgID); err != nil {
			logging.Op().Error("record transient failure failed", "command_id", cmd.CommandID, "error", err)
		}
		if err := w.client.SetVisibility(ctx, w.queue, m.MsgID, delay); err != nil {
			// The lease's natural expiry becomes the retry delay.
			logging.Op().Error("set backoff failed", "msg_id", m.MsgID, "error", err)
		}
		metrics.RecordRetryScheduled(w.domain, cmd.CommandType)
		metrics.RecordDispatch(w.domain, cmd.CommandType, "retry", elapsed)
		span.SetAttributes(observability.AttrOutcome.String("retry"))
		w.log(cmd, m, "retry", elapsed, handlerErr.Error(), true)

	case actionTroubleshoot:
		if err := w.store.ArchivePayload(ctx, w.domain, cmd.CommandID, m.Body); err != nil {
			logging.Op().Error("payload archive failed", "command_id", cmd.CommandID, "error", err)
		}
		if _, err := w.client.Archive(ctx, w.queue, m.MsgID); err != nil {
			logging.Op().Error("queue archive failed", "msg_id", m.MsgID, "error", err)
		}
		details, _ := json.Marshal(map[string]any{
			"attempts": cmd.Attempts, "max_attempts": cmd.MaxAttempts, "kind": errInfo.Kind,
		})
		finished, err := w.store.FinishCommand(ctx, w.domain, cmd.CommandID,
			domain.CommandStatusInTroubleshooting, domain.AuditMovedToTSQ, &errInfo, details)
		if err != nil {
			logging.Op().Error("move to troubleshooting failed", "command_id", cmd.CommandID, "error", err)
			return
		}
		replyErr := &domain.ReplyError{Code: errInfo.Code, Message: errInfo.Message, Class: errInfo.Kind}
		if err := bus.PublishReply(ctx, w.client, w.notifier, finished, domain.OutcomeFailed, nil, replyErr); err != nil {
			logging.Op().Error("troubleshooting reply failed", "command_id", cmd.CommandID, "error", err)
		}
		metrics.RecordMovedToTSQ(w.domain, cmd.CommandType)
		metrics.RecordDispatch(w.domain, cmd.CommandType, "troubleshooting", elapsed)
		span.SetAttributes(observability.AttrOutcome.String("troubleshooting"))
		w.log(cmd, m, "troubleshooting", elapsed, handlerErr.Error(), false)

	case actionFail:
		if _, err := w.client.Archive(ctx, w.queue, m.MsgID); err != nil {
			logging.Op().Error("queue archive failed", "msg_id", m.MsgID, "error", err)
		}
		details, _ := json.Marshal(map[string]any{"code": errInfo.Code})
		finished, err := w.store.FinishCommand(ctx, w.domain, cmd.CommandID,
			domain.CommandStatusFailed, domain.AuditFailed, &errInfo, details)
		if err != nil {
			logging.Op().Error("finish failed failed", "command_id", cmd.CommandID, "error", err)
			return
		}
		replyErr := &domain.ReplyError{Code: errInfo.Code, Message: errInfo.Message, Class: errInfo.Kind}
		if err := bus.PublishReply(ctx, w.client, w.notifier, finished, domain.OutcomeFailed, nil, replyErr); err != nil {
			logging.Op().Error("failure reply failed", "command_id", cmd.CommandID, "error", err)
		}
		metrics.RecordDispatch(w.domain, cmd.CommandType, "failed", elapsed)
		span.SetAttributes(observability.AttrOutcome.String("failed"))
		w.log(cmd, m, "failed", elapsed, handlerErr.Error(), false)
	}
}

func (w *Worker) log(cmd *domain.Command, m pgmq.Message, outcome string, elapsed time.Duration, errText string, retry bool) {
	w.dispatchLog.Log(&logging.DispatchLog{
		Domain:      cmd.Domain,
		CommandID:   cmd.CommandID,
		CommandType: cmd.CommandType,
		MsgID:       m.MsgID,
		Attempt:     cmd.Attempts,
		MaxAttempts: cmd.MaxAttempts,
		Outcome:     outcome,
		DurationMs:  elapsed.Milliseconds(),
		Error:       errText,
		Retry:       retry,
	})
}
