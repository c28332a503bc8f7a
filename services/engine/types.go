package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLC bar
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
}

// Date is a calendar date in the location of the timestamp it was taken from
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's own location
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses YYYY-MM-DD
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before reports whether d is strictly earlier than o
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	p, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// Signal is an entry produced by the pattern detector
type Signal struct {
	Date           Date            `json:"date"`
	EntryTime      time.Time       `json:"entry_time"`
	EntryIndex     int             `json:"entry_index"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	StopPrice      decimal.Decimal `json:"stop_price"`
	TargetPrice    decimal.Decimal `json:"target_price"`
	ReferenceLevel decimal.Decimal `json:"reference_level"`
}

// RiskDistance is entry minus stop
func (s Signal) RiskDistance() decimal.Decimal {
	return s.EntryPrice.Sub(s.StopPrice)
}

// Outcome is how a trade was resolved
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeStop
	OutcomeTarget
	OutcomeMarkToMarket
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStop:
		return "stop"
	case OutcomeTarget:
		return "target"
	case OutcomeMarkToMarket:
		return "mark_to_market"
	default:
		return "pending"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stop":
		*o = OutcomeStop
	case "target":
		*o = OutcomeTarget
	case "mark_to_market":
		*o = OutcomeMarkToMarket
	case "pending":
		*o = OutcomePending
	default:
		return fmt.Errorf("unknown outcome %q", string(b))
	}
	return nil
}

// Trade is a resolved signal
type Trade struct {
	Signal
	Outcome        Outcome         `json:"outcome"`
	ExitPrice      decimal.Decimal `json:"exit_price"`
	ResolutionTime time.Time       `json:"resolution_time"`
	PositionSize   decimal.Decimal `json:"position_size"`
	PnL            decimal.Decimal `json:"pnl"`
	EntryFee       decimal.Decimal `json:"entry_fee"`
	ExitFee        decimal.Decimal `json:"exit_fee"`
}

// Fees is entry plus exit fee
func (t Trade) Fees() decimal.Decimal {
	return t.EntryFee.Add(t.ExitFee)
}

// NetPnL is pnl after fees
func (t Trade) NetPnL() decimal.Decimal {
	return t.PnL.Sub(t.Fees())
}
