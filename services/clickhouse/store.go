package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"liquidity-sweep-backtest/services/engine"
)

// Conn is the subset of the clickhouse-go connection the store uses
type Conn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

type Options struct {
	Addr        []string
	Database    string
	Table       string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// Store reads and writes OHLC bars keyed by (symbol, interval, open_time_ms)
type Store struct {
	conn     Conn
	database string
	table    string
}

// Open connects and pings the server
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: opts.Addr,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: opts.DialTimeout,
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return NewStore(conn, opts.Database, opts.Table), nil
}

func NewStore(conn Conn, database, table string) *Store {
	return &Store{conn: conn, database: database, table: table}
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) qualified() string { return s.database + "." + s.table }

// EnsureSchema creates the database and bar table when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Decimal(18, 8),
			high Decimal(18, 8),
			low Decimal(18, 8),
			close Decimal(18, 8),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
	`, s.qualified())
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// BarQuery selects a symbol/interval range; zero From or To leaves that side open
type BarQuery struct {
	Symbol   string
	Interval string
	From     time.Time
	To       time.Time
}

func (q BarQuery) sql(table string) (string, []any) {
	conds := []string{"symbol = ?", "interval = ?"}
	args := []any{q.Symbol, q.Interval}
	if !q.From.IsZero() {
		conds = append(conds, "open_time_ms >= ?")
		args = append(args, uint64(q.From.UnixMilli()))
	}
	if !q.To.IsZero() {
		conds = append(conds, "open_time_ms < ?")
		args = append(args, uint64(q.To.UnixMilli()))
	}
	query := fmt.Sprintf("SELECT open_time_ms, open, high, low, close FROM %s FINAL WHERE %s ORDER BY open_time_ms",
		table, strings.Join(conds, " AND "))
	return query, args
}

// LoadBars returns the bars of q in ascending time, with timestamps in loc
func (s *Store) LoadBars(ctx context.Context, q BarQuery, loc *time.Location) ([]engine.Bar, error) {
	if loc == nil {
		loc = time.UTC
	}
	query, args := q.sql(s.qualified())
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var (
			ms                   uint64
			open, high, low, cls decimal.Decimal
		)
		if err := rows.Scan(&ms, &open, &high, &low, &cls); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, engine.Bar{
			Timestamp: time.UnixMilli(int64(ms)).In(loc),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	return bars, nil
}

// InsertBars appends bars in one batch. Re-inserting a bar replaces it on merge.
func (s *Store) InsertBars(ctx context.Context, symbol, interval string, bars []engine.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s SETTINGS insert_deduplicate=1", s.qualified()))
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}
	ver := uint64(time.Now().UnixNano())
	for _, b := range bars {
		if err := batch.Append(
			symbol, interval,
			uint64(b.Timestamp.UnixMilli()),
			b.Open, b.High, b.Low, b.Close,
			ver,
		); err != nil {
			batch.Abort()
			return 0, fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("batch send: %w", err)
	}
	return len(bars), nil
}

// DeriveDaily aggregates a stored intraday interval into one bar per calendar
// day of tz, inside ClickHouse. Re-running it replaces earlier derived rows.
func (s *Store) DeriveDaily(ctx context.Context, symbol, srcInterval, dstInterval string, tz *time.Location) error {
	if tz == nil {
		tz = time.UTC
	}
	q := fmt.Sprintf(`
		INSERT INTO %[1]s SETTINGS insert_deduplicate=1
		SELECT
			symbol,
			? AS interval,
			toUInt64(toUnixTimestamp(day) * 1000) AS open_time_ms,
			argMin(o, ts) AS open,
			max(h)        AS high,
			min(l)        AS low,
			argMax(c, ts) AS close,
			toUInt64(toUnixTimestamp64Nano(now64(9))) AS version
		FROM (
			SELECT
				symbol,
				open_time_ms AS ts,
				open AS o, high AS h, low AS l, close AS c,
				toStartOfDay(toDateTime(intDiv(open_time_ms, 1000), ?)) AS day
			FROM %[1]s FINAL
			WHERE symbol = ? AND interval = ?
		)
		GROUP BY symbol, day
	`, s.qualified())
	if err := s.conn.Exec(ctx, q, dstInterval, tz.String(), symbol, srcInterval); err != nil {
		return fmt.Errorf("derive %s from %s: %w", dstInterval, srcInterval, err)
	}
	return nil
}
