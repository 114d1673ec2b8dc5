package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oriys/courier/internal/domain"
)

// InsertBatch creates the batch row, inside tx when one is given (the
// batch engine passes the first chunk's transaction so the row commits
// atomically with its first commands) and on the pool when tx is nil.
func (s *Store) InsertBatch(ctx context.Context, tx pgx.Tx, b *domain.Batch) error {
	var exec interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	} = s.pool
	if tx != nil {
		exec = tx
	}
	_, err := exec.Exec(ctx, `
		INSERT INTO commandbus.batch (domain, batch_id, name, batch_type, total_count)
		VALUES ($1, $2, $3, $4, $5)
	`, b.Domain, b.BatchID, b.Name, string(b.BatchType), b.TotalCount)
	if err != nil {
		return fmt.Errorf("insert batch %s/%s: %w", b.Domain, b.BatchID, err)
	}
	return nil
}

// GetBatch fetches the batch row with its last refreshed counters.
func (s *Store) GetBatch(ctx context.Context, dom, batchID string) (*domain.Batch, error) {
	var b domain.Batch
	err := s.pool.QueryRow(ctx, `
		SELECT domain, batch_id, name, batch_type, status, total_count,
		       completed_count, canceled_count, failed_count, in_troubleshooting_count,
		       created_at, updated_at, completed_at
		FROM commandbus.batch
		WHERE domain = $1 AND batch_id = $2
	`, dom, batchID).Scan(
		&b.Domain, &b.BatchID, &b.Name, &b.BatchType, &b.Status, &b.TotalCount,
		&b.Completed, &b.Canceled, &b.Failed, &b.InTroubleshooting,
		&b.CreatedAt, &b.UpdatedAt, &b.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s/%s: %w", dom, batchID, err)
	}
	return &b, nil
}

// RefreshBatchStats re-aggregates terminal counts from the command (or
// process) rows and persists them on the batch.
func (s *Store) RefreshBatchStats(ctx context.Context, dom, batchID string) (*domain.BatchStats, error) {
	st := domain.BatchStats{Domain: dom, BatchID: batchID}
	err := s.pool.QueryRow(ctx, `
		SELECT total, completed, canceled, failed, in_troubleshooting, is_complete, status
		FROM commandbus.refresh_batch_stats($1, $2)
	`, dom, batchID).Scan(
		&st.Total, &st.Completed, &st.Canceled, &st.Failed,
		&st.InTroubleshooting, &st.IsComplete, &st.Status,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "P0002" {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("refresh batch stats %s/%s: %w", dom, batchID, err)
	}
	return &st, nil
}

// ListOpenBatches returns non-terminal batches for the watcher.
func (s *Store) ListOpenBatches(ctx context.Context, limit int) ([]domain.Batch, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT domain, batch_id, name, batch_type, status, total_count,
		       completed_count, canceled_count, failed_count, in_troubleshooting_count,
		       created_at, updated_at, completed_at
		FROM commandbus.batch
		WHERE status IN ('PENDING', 'IN_PROGRESS')
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open batches: %w", err)
	}
	defer rows.Close()

	var out []domain.Batch
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(
			&b.Domain, &b.BatchID, &b.Name, &b.BatchType, &b.Status, &b.TotalCount,
			&b.Completed, &b.Canceled, &b.Failed, &b.InTroubleshooting,
			&b.CreatedAt, &b.UpdatedAt, &b.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
