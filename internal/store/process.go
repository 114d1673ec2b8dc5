package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oriys/courier/internal/domain"
)

const processColumns = `domain, process_id, process_type, status, current_step, state, batch_id,
	last_error_kind, last_error_code, last_error_message,
	created_at, updated_at, completed_at`

func scanProcess(row rowScanner) (*domain.Process, error) {
	var (
		p       domain.Process
		batchID *string
		errKind *string
		errCode *string
		errMsg  *string
	)
	err := row.Scan(
		&p.Domain, &p.ProcessID, &p.ProcessType, &p.Status, &p.CurrentStep,
		&p.State, &batchID,
		&errKind, &errCode, &errMsg,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if batchID != nil {
		p.BatchID = *batchID
	}
	if errKind != nil || errCode != nil || errMsg != nil {
		p.LastError = &domain.ErrorInfo{}
		if errKind != nil {
			p.LastError.Kind = *errKind
		}
		if errCode != nil {
			p.LastError.Code = *errCode
		}
		if errMsg != nil {
			p.LastError.Message = *errMsg
		}
	}
	return &p, nil
}

// InsertProcess creates the PENDING process row.
func (s *Store) InsertProcess(ctx context.Context, p *domain.Process) error {
	state := p.State
	if len(state) == 0 {
		state = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commandbus.process
			(domain, process_id, process_type, status, current_step, state, batch_id)
		VALUES ($1, $2, $3, 'PENDING', $4, $5, $6)
	`, p.Domain, p.ProcessID, p.ProcessType, p.CurrentStep, state, nullable(p.BatchID))
	if err != nil {
		return fmt.Errorf("insert process %s/%s: %w", p.Domain, p.ProcessID, err)
	}
	return nil
}

// GetProcess fetches a single process row.
func (s *Store) GetProcess(ctx context.Context, dom, processID string) (*domain.Process, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+processColumns+`
		FROM commandbus.process
		WHERE domain = $1 AND process_id = $2
	`, dom, processID)
	p, err := scanProcess(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get process %s/%s: %w", dom, processID, err)
	}
	return p, nil
}

// UpdateProcess persists the status, current step, state object and
// last error of a process, stamping completed_at on terminal statuses.
func (s *Store) UpdateProcess(ctx context.Context, p *domain.Process) error {
	var kind, code, msg *string
	if p.LastError != nil {
		kind, code, msg = nullable(p.LastError.Kind), nullable(p.LastError.Code), nullable(p.LastError.Message)
	}
	state := p.State
	if len(state) == 0 {
		state = json.RawMessage(`{}`)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE commandbus.process
		   SET status = $3,
		       current_step = $4,
		       state = $5,
		       last_error_kind = $6,
		       last_error_code = $7,
		       last_error_message = $8,
		       updated_at = NOW(),
		       completed_at = CASE
		           WHEN $9 AND completed_at IS NULL THEN NOW()
		           ELSE completed_at
		       END
		 WHERE domain = $1 AND process_id = $2
	`, p.Domain, p.ProcessID, string(p.Status), p.CurrentStep, state,
		kind, code, msg, p.Status.IsTerminal())
	if err != nil {
		return fmt.Errorf("update process %s/%s: %w", p.Domain, p.ProcessID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProcessNotFound
	}
	return nil
}

// AppendProcessAudit records a step command the moment it is sent.
func (s *Store) AppendProcessAudit(ctx context.Context, e *domain.ProcessAuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO commandbus.process_audit
			(domain, process_id, step_name, command_id, command_type, command_data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.Domain, e.ProcessID, e.StepName, e.CommandID, e.CommandType, e.CommandData)
	if err != nil {
		return fmt.Errorf("append process audit %s/%s step %s: %w", e.Domain, e.ProcessID, e.StepName, err)
	}
	return nil
}

// MarkProcessReply stamps the reply on the matching process-audit row.
// The guard makes redelivered replies no-ops, with one exception: a
// FAILED outcome may be superseded, because the command sits in the
// troubleshooting queue and the operator's action emits the real final
// reply later. The returned entry is nil when nothing was applied.
func (s *Store) MarkProcessReply(ctx context.Context, dom, commandID string, outcome domain.ReplyOutcome, replyData json.RawMessage) (*domain.ProcessAuditEntry, error) {
	var e domain.ProcessAuditEntry
	err := s.pool.QueryRow(ctx, `
		UPDATE commandbus.process_audit
		   SET reply_outcome = $3, reply_data = $4, received_at = NOW()
		 WHERE domain = $1 AND command_id = $2
		   AND (received_at IS NULL OR reply_outcome = 'FAILED')
		RETURNING id, domain, process_id, step_name, command_id, command_type,
		          command_data, sent_at, reply_outcome, reply_data, received_at
	`, dom, commandID, string(outcome), replyData).Scan(
		&e.ID, &e.Domain, &e.ProcessID, &e.StepName, &e.CommandID, &e.CommandType,
		&e.CommandData, &e.SentAt, &e.ReplyOutcome, &e.ReplyData, &e.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark process reply for %s/%s: %w", dom, commandID, err)
	}
	return &e, nil
}

// ListProcessAudit returns the step history of a process in send order.
func (s *Store) ListProcessAudit(ctx context.Context, dom, processID string) ([]domain.ProcessAuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, domain, process_id, step_name, command_id, command_type,
		       command_data, sent_at, reply_outcome, reply_data, received_at
		FROM commandbus.process_audit
		WHERE domain = $1 AND process_id = $2
		ORDER BY id
	`, dom, processID)
	if err != nil {
		return nil, fmt.Errorf("list process audit %s/%s: %w", dom, processID, err)
	}
	defer rows.Close()

	var out []domain.ProcessAuditEntry
	for rows.Next() {
		var (
			e       domain.ProcessAuditEntry
			outcome *string
		)
		if err := rows.Scan(
			&e.ID, &e.Domain, &e.ProcessID, &e.StepName, &e.CommandID, &e.CommandType,
			&e.CommandData, &e.SentAt, &outcome, &e.ReplyData, &e.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan process audit entry: %w", err)
		}
		if outcome != nil {
			e.ReplyOutcome = domain.ReplyOutcome(*outcome)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
