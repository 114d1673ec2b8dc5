package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/logging"
	"github.com/oriys/courier/internal/metrics"
	"github.com/oriys/courier/internal/pgmq"
	"github.com/oriys/courier/internal/queue"
)

// PublishReply sends a reply message for a finished command when it asked
// for one. Reply queues are at-least-once like everything else; consumers
// must tolerate duplicates.
func PublishReply(ctx context.Context, client *pgmq.Client, notifier queue.Notifier, cmd *domain.Command, outcome domain.ReplyOutcome, data json.RawMessage, replyErr *domain.ReplyError) error {
	if cmd.ReplyQueue == "" {
		return nil
	}
	reply := domain.NewReply(cmd, cmd.CommandType, outcome, data, replyErr)
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply for %s/%s: %w", cmd.Domain, cmd.CommandID, err)
	}
	if _, err := client.Send(ctx, cmd.ReplyQueue, body); err != nil {
		return err
	}
	if notifier != nil {
		if err := notifier.Notify(ctx, cmd.ReplyQueue); err != nil {
			logging.Op().Warn("reply notify failed", "queue", cmd.ReplyQueue, "error", err)
		}
	}
	metrics.RecordReplyPublished(cmd.Domain, string(outcome))
	return nil
}

func (b *Bus) publishReply(ctx context.Context, cmd *domain.Command, outcome domain.ReplyOutcome, data json.RawMessage, replyErr *domain.ReplyError) error {
	return PublishReply(ctx, pgmq.New(b.store.Pool()), b.notifier, cmd, outcome, data, replyErr)
}
