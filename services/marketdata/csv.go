package marketdata

// CSV bar files: header detection, UTF-16 exports, mixed timestamp formats

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"liquidity-sweep-backtest/services/engine"
)

var ErrNoBars = errors.New("no bars parsed")

// naive layouts are interpreted in the caller's location
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

type columns struct {
	ts, open, high, low, close int
}

var positional = columns{ts: 0, open: 1, high: 2, low: 3, close: 4}

func detectHeader(rec []string) (columns, bool) {
	cols := columns{ts: -1, open: -1, high: -1, low: -1, close: -1}
	for i, name := range rec {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "timestamp", "timestamp_ms", "open_time_ms", "datetime", "date", "time":
			if cols.ts < 0 {
				cols.ts = i
			}
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close", "adj close":
			if cols.close < 0 || strings.EqualFold(strings.TrimSpace(name), "close") {
				cols.close = i
			}
		}
	}
	if cols.ts < 0 || cols.open < 0 || cols.high < 0 || cols.low < 0 || cols.close < 0 {
		return positional, false
	}
	return cols, true
}

// decodeBOM wraps r so UTF-16 exports read as UTF-8
func decodeBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		return transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}
	return br
}

// ParseTimestamp accepts unix seconds, unix milliseconds or a date/time string
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// anything past 1e11 cannot be seconds for market data
		if n > 1e11 {
			return time.UnixMilli(n).In(loc), nil
		}
		return time.Unix(n, 0).In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

func parsePrice(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(strings.Trim(s, `"`)))
}

// ReadCSV parses OHLC rows into bars sorted by time, dropping repeated timestamps.
// Rows without a parseable timestamp or price fail the read with their line number.
func ReadCSV(r io.Reader, loc *time.Location) ([]engine.Bar, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(decodeBOM(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	cols := positional
	var bars []engine.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 {
			if c, ok := detectHeader(rec); ok {
				cols = c
				continue
			}
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		b, err := parseRow(rec, cols, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, ErrNoBars
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	out := bars[:1]
	for _, b := range bars[1:] {
		if b.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func parseRow(rec []string, cols columns, loc *time.Location) (engine.Bar, error) {
	need := max(cols.ts, cols.open, cols.high, cols.low, cols.close)
	if len(rec) <= need {
		return engine.Bar{}, fmt.Errorf("expected at least %d fields, got %d", need+1, len(rec))
	}
	ts, err := ParseTimestamp(strings.TrimPrefix(rec[cols.ts], "\ufeff"), loc)
	if err != nil {
		return engine.Bar{}, err
	}
	var b engine.Bar
	b.Timestamp = ts
	for _, f := range []struct {
		dst *decimal.Decimal
		idx int
	}{{&b.Open, cols.open}, {&b.High, cols.high}, {&b.Low, cols.low}, {&b.Close, cols.close}} {
		v, err := parsePrice(rec[f.idx])
		if err != nil {
			return engine.Bar{}, fmt.Errorf("price %q: %w", rec[f.idx], err)
		}
		*f.dst = v
	}
	return b, nil
}

// LoadCSV reads a bar file from disk
func LoadCSV(path string, loc *time.Location) ([]engine.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadCSV(f, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// WriteCSV writes bars with millisecond timestamps
func WriteCSV(w io.Writer, bars []engine.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close"}); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			strconv.FormatInt(b.Timestamp.UnixMilli(), 10),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
