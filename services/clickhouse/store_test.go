package clickhouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"liquidity-sweep-backtest/services/engine"
)

type fakeRows struct {
	driver.Rows
	data [][]any
	pos  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	*dest[0].(*uint64) = row[0].(uint64)
	for i := 1; i < 5; i++ {
		*dest[i].(*decimal.Decimal) = row[i].(decimal.Decimal)
	}
	return nil
}

func (r *fakeRows) Close() error { return nil }
func (r *fakeRows) Err() error   { return r.err }

type fakeBatch struct {
	driver.Batch
	rows [][]any
	sent bool
}

func (b *fakeBatch) Append(v ...any) error { b.rows = append(b.rows, v); return nil }
func (b *fakeBatch) Send() error           { b.sent = true; return nil }
func (b *fakeBatch) Abort() error          { return nil }

type fakeConn struct {
	execs   []string
	execArg []any
	query   string
	args    []any
	rows    *fakeRows
	batch   *fakeBatch
	batchQ  string
	execErr error
}

func (c *fakeConn) Ping(context.Context) error { return nil }
func (c *fakeConn) Exec(_ context.Context, q string, args ...any) error {
	c.execs = append(c.execs, q)
	c.execArg = args
	return c.execErr
}
func (c *fakeConn) Query(_ context.Context, q string, args ...any) (driver.Rows, error) {
	c.query, c.args = q, args
	return c.rows, nil
}
func (c *fakeConn) PrepareBatch(_ context.Context, q string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.batchQ = q
	c.batch = &fakeBatch{}
	return c.batch, nil
}
func (c *fakeConn) Close() error { return nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLoadBars(t *testing.T) {
	conn := &fakeConn{rows: &fakeRows{data: [][]any{
		{uint64(1704205800000), dec("100"), dec("101"), dec("99"), dec("100.5")},
		{uint64(1704206700000), dec("100.5"), dec("102"), dec("100"), dec("101")},
	}}}
	ny, _ := time.LoadLocation("America/New_York")
	store := NewStore(conn, "backtest", "bars")
	q := BarQuery{Symbol: "SPY", Interval: "15m", From: time.UnixMilli(1704205800000)}
	bars, err := store.LoadBars(context.Background(), q, ny)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 || bars[0].Timestamp.Location() != ny || bars[0].Timestamp.Hour() != 9 {
		t.Fatalf("unexpected bars %+v", bars)
	}
	if !strings.Contains(conn.query, "FROM backtest.bars FINAL") || !strings.Contains(conn.query, "open_time_ms >= ?") {
		t.Fatalf("query %q", conn.query)
	}
	if strings.Contains(conn.query, "open_time_ms < ?") || len(conn.args) != 3 {
		t.Fatalf("open upper bound expected, args %v", conn.args)
	}
}

func TestLoadBarsRowsError(t *testing.T) {
	boom := errors.New("boom")
	conn := &fakeConn{rows: &fakeRows{err: boom}}
	_, err := NewStore(conn, "db", "t").LoadBars(context.Background(), BarQuery{Symbol: "SPY", Interval: "1d"}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped rows error, got %v", err)
	}
}

func TestInsertBars(t *testing.T) {
	conn := &fakeConn{}
	store := NewStore(conn, "backtest", "bars")
	bars := []engine.Bar{{Timestamp: time.UnixMilli(1704205800000), Open: dec("1"), High: dec("2"), Low: dec("0.5"), Close: dec("1.5")}}
	n, err := store.InsertBars(context.Background(), "SPY", "15m", bars)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || !conn.batch.sent || len(conn.batch.rows[0]) != 8 {
		t.Fatalf("n=%d batch=%+v", n, conn.batch)
	}
	if conn.batch.rows[0][2].(uint64) != 1704205800000 {
		t.Fatalf("open_time_ms %v", conn.batch.rows[0][2])
	}
	conn.batch = nil
	if n, _ := store.InsertBars(context.Background(), "SPY", "15m", nil); n != 0 || conn.batch != nil {
		t.Fatal("empty insert should be a no-op")
	}
}

func TestEnsureSchema(t *testing.T) {
	conn := &fakeConn{}
	if err := NewStore(conn, "backtest", "bars").EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(conn.execs) != 2 || !strings.Contains(conn.execs[1], "ReplacingMergeTree(version)") {
		t.Fatalf("execs %v", conn.execs)
	}
	conn = &fakeConn{execErr: errors.New("denied")}
	if err := NewStore(conn, "backtest", "bars").EnsureSchema(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeriveDaily(t *testing.T) {
	conn := &fakeConn{}
	ny, _ := time.LoadLocation("America/New_York")
	if err := NewStore(conn, "backtest", "bars").DeriveDaily(context.Background(), "ES", "15m", "1d", ny); err != nil {
		t.Fatal(err)
	}
	q := conn.execs[0]
	for _, want := range []string{"INSERT INTO backtest.bars", "toStartOfDay", "argMin(o, ts)", "argMax(c, ts)", "GROUP BY symbol, day"} {
		if !strings.Contains(q, want) {
			t.Fatalf("query missing %q:\n%s", want, q)
		}
	}
	if len(conn.execArg) != 4 || conn.execArg[0] != "1d" || conn.execArg[1] != "America/New_York" || conn.execArg[3] != "15m" {
		t.Fatalf("args %v", conn.execArg)
	}
}
