// Package arrowpipeline exports backtest trades as Apache Arrow IPC streams
package arrowpipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"liquidity-sweep-backtest/services/engine"
)

const DefaultBatchSize = 4096

// Config holds Arrow pipeline configuration
type Config struct {
	BatchSize int `yaml:"batch_size"`
}

// Pipeline encodes and decodes trade tables
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:     config,
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

var tsType = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

// TradeSchema is the column layout of exported trades. Prices are float64
// views of the exact decimals held by the engine.
var TradeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "date", Type: arrow.BinaryTypes.String},
	{Name: "entry_time", Type: tsType},
	{Name: "entry_index", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "stop_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "target_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "reference_level", Type: arrow.PrimitiveTypes.Float64},
	{Name: "outcome", Type: arrow.BinaryTypes.String},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "resolution_time", Type: tsType},
	{Name: "position_size", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "entry_fee", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_fee", Type: arrow.PrimitiveTypes.Float64},
}, nil)

func (p *Pipeline) buildRecord(trades []engine.Trade) arrow.Record {
	rb := array.NewRecordBuilder(p.memoryPool, TradeSchema)
	defer rb.Release()

	f64 := func(i int, v decimal.Decimal) { rb.Field(i).(*array.Float64Builder).Append(v.InexactFloat64()) }
	ts := func(i int, t time.Time) { rb.Field(i).(*array.TimestampBuilder).Append(arrow.Timestamp(t.UnixMilli())) }

	for _, t := range trades {
		rb.Field(0).(*array.StringBuilder).Append(t.Date.String())
		ts(1, t.EntryTime)
		rb.Field(2).(*array.Int64Builder).Append(int64(t.EntryIndex))
		f64(3, t.EntryPrice)
		f64(4, t.StopPrice)
		f64(5, t.TargetPrice)
		f64(6, t.ReferenceLevel)
		rb.Field(7).(*array.StringBuilder).Append(t.Outcome.String())
		f64(8, t.ExitPrice)
		ts(9, t.ResolutionTime)
		f64(10, t.PositionSize)
		f64(11, t.PnL)
		f64(12, t.EntryFee)
		f64(13, t.ExitFee)
	}
	return rb.NewRecord()
}

// EncodeTrades writes trades as an IPC stream, BatchSize rows per record
func (p *Pipeline) EncodeTrades(w io.Writer, trades []engine.Trade) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(TradeSchema), ipc.WithAllocator(p.memoryPool))
	records := 0
	for start := 0; start < len(trades); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(trades))
		rec := p.buildRecord(trades[start:end])
		err := writer.Write(rec)
		rec.Release()
		if err != nil {
			writer.Close()
			return fmt.Errorf("failed to write Arrow record: %w", err)
		}
		records++
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow writer: %w", err)
	}
	p.logger.Debug("trades encoded", zap.Int("rows", len(trades)), zap.Int("records", records))
	return nil
}

// DecodeTrades reads a stream written by EncodeTrades
func (p *Pipeline) DecodeTrades(r io.Reader) ([]engine.Trade, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, fmt.Errorf("failed to open Arrow stream: %w", err)
	}
	defer rdr.Release()
	if err := checkSchema(rdr.Schema()); err != nil {
		return nil, err
	}

	var out []engine.Trade
	for rdr.Next() {
		rec := rdr.Record()
		trades, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, trades...)
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read Arrow stream: %w", err)
	}
	return out, nil
}

// checkSchema requires the trade column names and types in order
func checkSchema(got *arrow.Schema) error {
	want := TradeSchema.Fields()
	fields := got.Fields()
	if len(fields) != len(want) {
		return fmt.Errorf("trade stream has %d columns, want %d", len(fields), len(want))
	}
	for i, f := range fields {
		if f.Name != want[i].Name || !arrow.TypeEqual(f.Type, want[i].Type) {
			return fmt.Errorf("trade stream column %d is %s %s, want %s %s", i, f.Name, f.Type, want[i].Name, want[i].Type)
		}
	}
	return nil
}

func decodeRecord(rec arrow.Record) ([]engine.Trade, error) {
	str := func(i int) *array.String { return rec.Column(i).(*array.String) }
	f64 := func(i, row int) decimal.Decimal {
		return decimal.NewFromFloat(rec.Column(i).(*array.Float64).Value(row))
	}
	ts := func(i, row int) time.Time {
		return time.UnixMilli(int64(rec.Column(i).(*array.Timestamp).Value(row))).UTC()
	}

	out := make([]engine.Trade, 0, rec.NumRows())
	for row := 0; row < int(rec.NumRows()); row++ {
		var t engine.Trade
		if err := t.Date.UnmarshalText([]byte(str(0).Value(row))); err != nil {
			return nil, fmt.Errorf("row %d date: %w", row, err)
		}
		if err := t.Outcome.UnmarshalText([]byte(str(7).Value(row))); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		t.EntryTime = ts(1, row)
		t.EntryIndex = int(rec.Column(2).(*array.Int64).Value(row))
		t.EntryPrice = f64(3, row)
		t.StopPrice = f64(4, row)
		t.TargetPrice = f64(5, row)
		t.ReferenceLevel = f64(6, row)
		t.ExitPrice = f64(8, row)
		t.ResolutionTime = ts(9, row)
		t.PositionSize = f64(10, row)
		t.PnL = f64(11, row)
		t.EntryFee = f64(12, row)
		t.ExitFee = f64(13, row)
		out = append(out, t)
	}
	return out, nil
}
