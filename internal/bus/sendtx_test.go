package bus

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/oriys/courier/internal/config"
	"github.com/oriys/courier/internal/domain"
	"github.com/oriys/courier/internal/store"
)

// fakeTx records every statement so tests can assert what a send
// transaction would have written. duplicate makes the command insert
// report a conflict the way ON CONFLICT DO NOTHING does.
type fakeTx struct {
	statements []string
	duplicate  bool
	nextMsgID  int64
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.statements = append(t.statements, sql)
	if t.duplicate && strings.Contains(sql, "INSERT INTO commandbus.command") {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	t.statements = append(t.statements, sql)
	if strings.Contains(sql, "pgmq.send") {
		t.nextMsgID++
		return fakeRow{msgID: t.nextMsgID}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func (t *fakeTx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query: " + sql)
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error          { return nil }
func (t *fakeTx) Rollback(context.Context) error        { return nil }
func (t *fakeTx) Conn() *pgx.Conn                       { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects        { return pgx.LargeObjects{} }

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("unexpected copy")
}

func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("unexpected prepare")
}

type fakeRow struct {
	msgID int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*int64); ok {
		*p = r.msgID
	}
	return nil
}

func (t *fakeTx) count(fragment string) int {
	n := 0
	for _, sql := range t.statements {
		if strings.Contains(sql, fragment) {
			n++
		}
	}
	return n
}

func newFakeBus() *Bus {
	cfg := config.DefaultConfig()
	return New(new(store.Store), nil, cfg.Bus, cfg.Batch)
}

func TestSendTxWritesFullPipeline(t *testing.T) {
	b := newFakeBus()
	tx := &fakeTx{}

	id, err := b.SendTx(context.Background(), tx, SendRequest{Domain: "payments", Type: "ChargeCard"})
	if err != nil {
		t.Fatalf("SendTx: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("returned id %q is not a UUID", id)
	}

	for _, fragment := range []string{
		"INSERT INTO commandbus.command",
		"pgmq.send",
		"queue_message_id",
		"INSERT INTO commandbus.audit",
		"pg_notify",
	} {
		if tx.count(fragment) != 1 {
			t.Errorf("expected exactly one statement matching %q, got %d", fragment, tx.count(fragment))
		}
	}
}

func TestSendTxDuplicateCommandFails(t *testing.T) {
	b := newFakeBus()
	tx := &fakeTx{duplicate: true}

	_, err := b.SendTx(context.Background(), tx, SendRequest{
		Domain:    "payments",
		CommandID: uuid.NewString(),
		Type:      "ChargeCard",
	})
	if !errors.Is(err, domain.ErrDuplicateCommand) {
		t.Fatalf("SendTx on duplicate = %v, want ErrDuplicateCommand", err)
	}
	// The losing sender must not enqueue a second message.
	if tx.count("pgmq.send") != 0 {
		t.Error("duplicate send still enqueued a queue message")
	}
	if tx.count("pg_notify") != 0 {
		t.Error("duplicate send still signalled a wakeup")
	}
}

func TestWriteChunkCreatesBatchBeforeCommands(t *testing.T) {
	b := newFakeBus()
	tx := &fakeTx{}

	batch := &domain.Batch{
		Domain:     "payments",
		BatchID:    uuid.NewString(),
		BatchType:  domain.BatchTypeCommand,
		TotalCount: 2,
	}
	cmds := []SendRequest{{Type: "ChargeCard"}, {Type: "ChargeCard"}}
	if err := b.writeChunk(context.Background(), tx, "payments", batch.BatchID, batch, cmds); err != nil {
		t.Fatalf("writeChunk: %v", err)
	}

	if !strings.Contains(tx.statements[0], "INSERT INTO commandbus.batch") {
		t.Errorf("batch row must be written first in the chunk transaction, got %q", tx.statements[0])
	}
	if tx.count("INSERT INTO commandbus.command") != 2 {
		t.Errorf("expected 2 command inserts, got %d", tx.count("INSERT INTO commandbus.command"))
	}
}

func TestWriteChunkSkipsDuplicates(t *testing.T) {
	b := newFakeBus()
	tx := &fakeTx{duplicate: true}

	cmds := []SendRequest{{Type: "ChargeCard"}, {Type: "RefundCard"}}
	if err := b.writeChunk(context.Background(), tx, "payments", uuid.NewString(), nil, cmds); err != nil {
		t.Fatalf("writeChunk with duplicates: %v", err)
	}
	if tx.count("INSERT INTO commandbus.batch") != 0 {
		t.Error("nil batch must not insert a batch row")
	}
	if tx.count("pgmq.send") != 0 {
		t.Error("duplicate members must not enqueue messages")
	}
}
