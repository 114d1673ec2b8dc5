// Package pgmq is a thin client for the PGMQ PostgreSQL extension. It
// wraps the extension's SQL surface (send, read, delete, archive, set_vt,
// queue administration) and nothing else; retry policy and command state
// live above it.
package pgmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInvalidQueueName is returned for queue names PGMQ would reject.
var ErrInvalidQueueName = errors.New("invalid queue name")

// queue names become Postgres identifiers (pgmq.q_<name>), so dots and
// uppercase are out; 47 chars is the PGMQ limit after prefixing.
var queueNameRe = regexp.MustCompile(`^[a-z0-9_]{1,47}$`)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so every operation can
// run standalone or inside a caller-owned transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Message is one leased queue message.
type Message struct {
	MsgID      int64           `json:"msg_id"`
	ReadCount  int             `json:"read_ct"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	VT         time.Time       `json:"vt"`
	Body       json.RawMessage `json:"message"`
}

// Client issues PGMQ calls through a Querier.
type Client struct {
	q Querier
}

// New creates a client bound to the given pool or transaction.
func New(q Querier) *Client {
	return &Client{q: q}
}

// WithTx returns a client that runs inside tx.
func (c *Client) WithTx(tx pgx.Tx) *Client {
	return &Client{q: tx}
}

// Send enqueues a JSON body and returns the queue-assigned message id.
func (c *Client) Send(ctx context.Context, queue string, body json.RawMessage) (int64, error) {
	if err := checkQueueName(queue); err != nil {
		return 0, err
	}
	var msgID int64
	err := c.q.QueryRow(ctx, `SELECT pgmq.send(queue_name => $1, msg => $2::jsonb)`, queue, body).Scan(&msgID)
	if err != nil {
		return 0, fmt.Errorf("pgmq send to %s: %w", queue, err)
	}
	return msgID, nil
}

// Read leases up to qty messages, making them invisible for vt.
func (c *Client) Read(ctx context.Context, queue string, vt time.Duration, qty int) ([]Message, error) {
	if err := checkQueueName(queue); err != nil {
		return nil, err
	}
	if qty <= 0 {
		qty = 1
	}
	rows, err := c.q.Query(ctx, `
		SELECT msg_id, read_ct, enqueued_at, vt, message
		FROM pgmq.read(queue_name => $1, vt => $2, qty => $3)
	`, queue, seconds(vt), qty)
	if err != nil {
		return nil, fmt.Errorf("pgmq read from %s: %w", queue, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MsgID, &m.ReadCount, &m.EnqueuedAt, &m.VT, &m.Body); err != nil {
			return nil, fmt.Errorf("scan pgmq message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows: %w", err)
	}
	return out, nil
}

// Delete acknowledges success, removing the message permanently.
func (c *Client) Delete(ctx context.Context, queue string, msgID int64) (bool, error) {
	if err := checkQueueName(queue); err != nil {
		return false, err
	}
	var deleted bool
	err := c.q.QueryRow(ctx, `SELECT pgmq.delete(queue_name => $1, msg_id => $2)`, queue, msgID).Scan(&deleted)
	if err != nil {
		return false, fmt.Errorf("pgmq delete %d from %s: %w", msgID, queue, err)
	}
	return deleted, nil
}

// Archive acknowledges terminal failure, moving the message to the
// queue's archive table.
func (c *Client) Archive(ctx context.Context, queue string, msgID int64) (bool, error) {
	if err := checkQueueName(queue); err != nil {
		return false, err
	}
	var archived bool
	err := c.q.QueryRow(ctx, `SELECT pgmq.archive(queue_name => $1, msg_id => $2)`, queue, msgID).Scan(&archived)
	if err != nil {
		return false, fmt.Errorf("pgmq archive %d from %s: %w", msgID, queue, err)
	}
	return archived, nil
}

// SetVisibility moves the message's lease expiry to now + delay. Retry
// backoff is implemented this way, without re-enqueueing.
func (c *Client) SetVisibility(ctx context.Context, queue string, msgID int64, delay time.Duration) error {
	if err := checkQueueName(queue); err != nil {
		return err
	}
	var id int64
	err := c.q.QueryRow(ctx, `
		SELECT msg_id FROM pgmq.set_vt(queue_name => $1, msg_id => $2, vt => $3)
	`, queue, msgID, seconds(delay)).Scan(&id)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("pgmq set_vt: message %d not found in %s", msgID, queue)
	}
	if err != nil {
		return fmt.Errorf("pgmq set_vt %d on %s: %w", msgID, queue, err)
	}
	return nil
}

// ReadArchived fetches the body of an archived message, for operator retry.
func (c *Client) ReadArchived(ctx context.Context, queue string, msgID int64) (json.RawMessage, error) {
	if err := checkQueueName(queue); err != nil {
		return nil, err
	}
	var body json.RawMessage
	// The archive table name is derived from a validated queue name.
	sql := fmt.Sprintf(`SELECT message FROM pgmq.a_%s WHERE msg_id = $1`, queue)
	err := c.q.QueryRow(ctx, sql, msgID).Scan(&body)
	if err == pgx.ErrNoRows {
		return nil, pgx.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("pgmq read archive %d from %s: %w", msgID, queue, err)
	}
	return body, nil
}

// CreateQueue creates the queue if it does not exist.
func (c *Client) CreateQueue(ctx context.Context, queue string) error {
	if err := checkQueueName(queue); err != nil {
		return err
	}
	if _, err := c.q.Exec(ctx, `SELECT pgmq.create($1)`, queue); err != nil {
		return fmt.Errorf("pgmq create %s: %w", queue, err)
	}
	return nil
}

// DropQueue removes the queue and its archive.
func (c *Client) DropQueue(ctx context.Context, queue string) error {
	if err := checkQueueName(queue); err != nil {
		return err
	}
	if _, err := c.q.Exec(ctx, `SELECT pgmq.drop_queue($1)`, queue); err != nil {
		return fmt.Errorf("pgmq drop %s: %w", queue, err)
	}
	return nil
}

func checkQueueName(queue string) error {
	if !queueNameRe.MatchString(queue) {
		return fmt.Errorf("%w: %q", ErrInvalidQueueName, queue)
	}
	return nil
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
