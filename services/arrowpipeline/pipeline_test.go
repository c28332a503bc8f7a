package arrowpipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"

	"liquidity-sweep-backtest/services/engine"
)

func sampleTrades(n int) []engine.Trade {
	start := time.Date(2024, 1, 2, 14, 45, 0, 0, time.UTC)
	out := make([]engine.Trade, n)
	for i := range out {
		entry := start.AddDate(0, 0, i)
		out[i] = engine.Trade{
			Signal: engine.Signal{
				Date:           engine.DateOf(entry),
				EntryTime:      entry,
				EntryIndex:     3 + i*26,
				EntryPrice:     decimal.RequireFromString("106.5"),
				StopPrice:      decimal.RequireFromString("99"),
				TargetPrice:    decimal.RequireFromString("114"),
				ReferenceLevel: decimal.RequireFromString("100"),
			},
			Outcome:        engine.OutcomeTarget,
			ExitPrice:      decimal.RequireFromString("114"),
			ResolutionTime: entry.Add(time.Hour),
			PositionSize:   decimal.RequireFromString("133.25"),
			PnL:            decimal.NewFromInt(1000),
			EntryFee:       decimal.NewFromInt(3),
			ExitFee:        decimal.NewFromInt(3),
		}
	}
	out[n-1].Outcome = engine.OutcomeStop
	return out
}

func TestEncodeDecodeTrades(t *testing.T) {
	p := NewPipeline(Config{BatchSize: 2}, nil)
	trades := sampleTrades(5)
	var buf bytes.Buffer
	if err := p.EncodeTrades(&buf, trades); err != nil {
		t.Fatal(err)
	}
	got, err := p.DecodeTrades(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(trades) {
		t.Fatalf("expected %d rows across batches, got %d", len(trades), len(got))
	}
	for i := range got {
		want := trades[i]
		if got[i].Date != want.Date || got[i].EntryIndex != want.EntryIndex || got[i].Outcome != want.Outcome {
			t.Fatalf("row %d: got %+v", i, got[i])
		}
		if !got[i].EntryTime.Equal(want.EntryTime) || !got[i].ResolutionTime.Equal(want.ResolutionTime) {
			t.Fatalf("row %d times differ", i)
		}
		if !got[i].EntryPrice.Equal(want.EntryPrice) || !got[i].PositionSize.Equal(want.PositionSize) {
			t.Fatalf("row %d prices differ", i)
		}
	}
}

func TestEncodeNoTrades(t *testing.T) {
	p := NewPipeline(Config{}, nil)
	var buf bytes.Buffer
	if err := p.EncodeTrades(&buf, nil); err != nil {
		t.Fatal(err)
	}
	got, err := p.DecodeTrades(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %d", len(got))
	}
}

func TestDecodeRejectsForeignSchema(t *testing.T) {
	// same column count, every column a string
	fields := make([]arrow.Field, len(TradeSchema.Fields()))
	for i, f := range TradeSchema.Fields() {
		fields[i] = arrow.Field{Name: f.Name, Type: arrow.BinaryTypes.String}
	}
	schema := arrow.NewSchema(fields, nil)
	rb := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer rb.Release()
	for i := range fields {
		rb.Field(i).(*array.StringBuilder).Append("x")
	}
	rec := rb.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	if err := w.Write(rec); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPipeline(Config{}, nil).DecodeTrades(&buf); err == nil {
		t.Fatal("expected a schema error")
	}
}
