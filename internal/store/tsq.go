package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/courier/internal/domain"
)

// ListTroubleshooting returns commands parked in the troubleshooting
// queue, newest first.
func (s *Store) ListTroubleshooting(ctx context.Context, dom string, limit int) ([]domain.Command, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+commandColumns+`
		FROM commandbus.command
		WHERE domain = $1 AND status = 'IN_TROUBLESHOOTING_QUEUE'
		ORDER BY updated_at DESC
		LIMIT $2
	`, dom, limit)
	if err != nil {
		return nil, fmt.Errorf("list troubleshooting for %s: %w", dom, err)
	}
	defer rows.Close()

	var out []domain.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan troubleshooting command: %w", err)
		}
		out = append(out, *cmd)
	}
	return out, rows.Err()
}

// ArchivePayload keeps a copy of the command payload so operator retry
// works even if the queue archive row is gone.
func (s *Store) ArchivePayload(ctx context.Context, dom, commandID string, payload json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commandbus.payload_archive (domain, command_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain, command_id) DO UPDATE SET payload = EXCLUDED.payload
	`, dom, commandID, payload)
	if err != nil {
		return fmt.Errorf("archive payload %s/%s: %w", dom, commandID, err)
	}
	return nil
}

// GetArchivedPayload fetches the archived payload of a command.
func (s *Store) GetArchivedPayload(ctx context.Context, dom, commandID string) (json.RawMessage, error) {
	var payload json.RawMessage
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM commandbus.payload_archive
		WHERE domain = $1 AND command_id = $2
	`, dom, commandID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPayloadUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("get archived payload %s/%s: %w", dom, commandID, err)
	}
	return payload, nil
}

// ResetCommandForRetry puts a troubleshooting command back to PENDING
// inside tx, optionally zeroing its attempt counter, and clears the
// last error. The guard on status keeps concurrent operators honest.
func (s *Store) ResetCommandForRetry(ctx context.Context, tx pgx.Tx, dom, commandID string, resetAttempts bool) error {
	tag, err := tx.Exec(ctx, `
		UPDATE commandbus.command
		   SET status = 'PENDING',
		       attempts = CASE WHEN $3 THEN 0 ELSE attempts END,
		       queue_message_id = NULL,
		       last_error_kind = NULL,
		       last_error_code = NULL,
		       last_error_message = NULL,
		       updated_at = NOW()
		 WHERE domain = $1 AND command_id = $2
		   AND status = 'IN_TROUBLESHOOTING_QUEUE'
	`, dom, commandID, resetAttempts)
	if err != nil {
		return fmt.Errorf("reset command %s/%s for retry: %w", dom, commandID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInTroubleshooting
	}
	return nil
}

// ApplyTSQCounter adjusts the parent batch counters after an operator
// action on a troubleshooting command.
func (s *Store) ApplyTSQCounter(ctx context.Context, dom, batchID string, action string) error {
	var fn string
	switch action {
	case "retry":
		fn = "commandbus.tsq_retry"
	case "cancel":
		fn = "commandbus.tsq_cancel"
	case "complete":
		fn = "commandbus.tsq_complete"
	default:
		return fmt.Errorf("unknown troubleshooting action %q", action)
	}
	if _, err := s.pool.Exec(ctx, `SELECT `+fn+`($1, $2)`, dom, batchID); err != nil {
		return fmt.Errorf("apply batch counter for %s on %s/%s: %w", action, dom, batchID, err)
	}
	return nil
}
