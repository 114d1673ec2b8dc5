package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oriys/courier/internal/domain"
)

const commandColumns = `domain, command_id, command_type, status, attempts, max_attempts,
	queue_message_id, correlation_id, reply_queue, batch_id,
	last_error_kind, last_error_code, last_error_message,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*domain.Command, error) {
	var (
		cmd           domain.Command
		correlationID *string
		batchID       *string
		errKind       *string
		errCode       *string
		errMsg        *string
	)
	err := row.Scan(
		&cmd.Domain, &cmd.CommandID, &cmd.CommandType, &cmd.Status,
		&cmd.Attempts, &cmd.MaxAttempts,
		&cmd.QueueMessageID, &correlationID, &cmd.ReplyQueue, &batchID,
		&errKind, &errCode, &errMsg,
		&cmd.CreatedAt, &cmd.UpdatedAt, &cmd.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if correlationID != nil {
		cmd.CorrelationID = *correlationID
	}
	if batchID != nil {
		cmd.BatchID = *batchID
	}
	if errKind != nil || errCode != nil || errMsg != nil {
		cmd.LastError = &domain.ErrorInfo{}
		if errKind != nil {
			cmd.LastError.Kind = *errKind
		}
		if errCode != nil {
			cmd.LastError.Code = *errCode
		}
		if errMsg != nil {
			cmd.LastError.Message = *errMsg
		}
	}
	return &cmd, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertCommand creates the PENDING metadata row inside tx. A duplicate
// (domain, command_id) maps to ErrDuplicateCommand so callers can treat
// resends as idempotent no-ops. ON CONFLICT DO NOTHING keeps the
// enclosing transaction usable after a duplicate, which matters for
// chunked batch sends.
func (s *Store) InsertCommand(ctx context.Context, tx pgx.Tx, cmd *domain.Command) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO commandbus.command
			(domain, command_id, command_type, status, max_attempts,
			 correlation_id, reply_queue, batch_id)
		VALUES ($1, $2, $3, 'PENDING', $4, $5, $6, $7)
		ON CONFLICT (domain, command_id) DO NOTHING
	`, cmd.Domain, cmd.CommandID, cmd.CommandType, cmd.MaxAttempts,
		nullable(cmd.CorrelationID), cmd.ReplyQueue, nullable(cmd.BatchID))
	if err != nil {
		return fmt.Errorf("insert command %s/%s: %w", cmd.Domain, cmd.CommandID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateCommand
	}
	return nil
}

// SetCommandMessageID records the queue message id assigned at send time.
func (s *Store) SetCommandMessageID(ctx context.Context, tx pgx.Tx, dom, commandID string, msgID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE commandbus.command
		   SET queue_message_id = $3, updated_at = NOW()
		 WHERE domain = $1 AND command_id = $2
	`, dom, commandID, msgID)
	if err != nil {
		return fmt.Errorf("set message id for %s/%s: %w", dom, commandID, err)
	}
	return nil
}

// AppendAudit writes one audit row. It runs on the pool when tx is nil.
func (s *Store) AppendAudit(ctx context.Context, tx pgx.Tx, dom, commandID string, event domain.AuditEventType, details []byte) error {
	var exec interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	} = s.pool
	if tx != nil {
		exec = tx
	}
	_, err := exec.Exec(ctx, `
		INSERT INTO commandbus.audit (domain, command_id, event_type, details)
		VALUES ($1, $2, $3, $4)
	`, dom, commandID, string(event), details)
	if err != nil {
		return fmt.Errorf("append audit %s for %s/%s: %w", event, dom, commandID, err)
	}
	return nil
}

// ReceiveCommand leases the command for processing. It returns
// (nil, nil) when the row is already COMPLETED or CANCELED, which means
// the queue message is stale and must be acked without dispatch.
func (s *Store) ReceiveCommand(ctx context.Context, dom, commandID string, msgID int64) (*domain.Command, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+commandColumns+`
		FROM commandbus.receive_command($1, $2, $3)
	`, dom, commandID, msgID)
	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive command %s/%s: %w", dom, commandID, err)
	}
	return cmd, nil
}

// FinishCommand moves the command to a terminal (or troubleshooting)
// status under a row lock. Repeated calls append the audit event again
// but do not change the row.
func (s *Store) FinishCommand(ctx context.Context, dom, commandID string, status domain.CommandStatus, event domain.AuditEventType, errInfo *domain.ErrorInfo, details []byte) (*domain.Command, error) {
	var kind, code, msg *string
	if errInfo != nil {
		kind, code, msg = nullable(errInfo.Kind), nullable(errInfo.Code), nullable(errInfo.Message)
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+commandColumns+`
		FROM commandbus.finish_command($1, $2, $3, $4, $5, $6, $7, $8)
	`, dom, commandID, string(status), string(event), kind, code, msg, details)
	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finish command %s/%s as %s: %w", dom, commandID, status, err)
	}
	return cmd, nil
}

// FailCommand records a transient failure without changing the status;
// the message lease decides when the next attempt runs.
func (s *Store) FailCommand(ctx context.Context, dom, commandID string, errInfo domain.ErrorInfo, attempt, maxAttempts int, msgID int64) error {
	_, err := s.pool.Exec(ctx, `
		SELECT commandbus.fail_command($1, $2, $3, $4, $5, $6, $7, $8)
	`, dom, commandID, errInfo.Kind, errInfo.Code, errInfo.Message, attempt, maxAttempts, msgID)
	if err != nil {
		return fmt.Errorf("fail command %s/%s: %w", dom, commandID, err)
	}
	return nil
}

// GetCommand fetches a single command row.
func (s *Store) GetCommand(ctx context.Context, dom, commandID string) (*domain.Command, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+commandColumns+`
		FROM commandbus.command
		WHERE domain = $1 AND command_id = $2
	`, dom, commandID)
	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCommandNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get command %s/%s: %w", dom, commandID, err)
	}
	return cmd, nil
}

// ListAudit returns the audit trail of a command in insertion order.
func (s *Store) ListAudit(ctx context.Context, dom, commandID string) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, domain, command_id, event_type, details, created_at
		FROM commandbus.audit
		WHERE domain = $1 AND command_id = $2
		ORDER BY id
	`, dom, commandID)
	if err != nil {
		return nil, fmt.Errorf("list audit for %s/%s: %w", dom, commandID, err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.Domain, &e.CommandID, &e.EventType, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
