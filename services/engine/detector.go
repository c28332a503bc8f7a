package engine

import (
	"iter"

	"github.com/shopspring/decimal"
)

// CandidateReason explains what happened to a pattern window
type CandidateReason string

const (
	ReasonEmitted          CandidateReason = "emitted"
	ReasonDayLocked        CandidateReason = "day_locked"
	ReasonMissingReference CandidateReason = "missing_reference"
	ReasonNotSwept         CandidateReason = "not_swept"
	ReasonNoImbalance      CandidateReason = "no_imbalance"
)

// DetectorStats counts windows by reason
type DetectorStats struct {
	Windows          int `json:"windows"`
	Emitted          int `json:"emitted"`
	DayLocked        int `json:"day_locked"`
	MissingReference int `json:"missing_reference"`
	NotSwept         int `json:"not_swept"`
	NoImbalance      int `json:"no_imbalance"`
}

func (s *DetectorStats) count(r CandidateReason) {
	s.Windows++
	switch r {
	case ReasonEmitted:
		s.Emitted++
	case ReasonDayLocked:
		s.DayLocked++
	case ReasonMissingReference:
		s.MissingReference++
	case ReasonNotSwept:
		s.NotSwept++
	case ReasonNoImbalance:
		s.NoImbalance++
	}
}

// dayAccumulator tracks the lowest low of the current date's bars seen so far
type dayAccumulator struct {
	date   Date
	minLow decimal.Decimal
	seen   bool
}

func (a *dayAccumulator) roll(d Date) {
	if a.date != d {
		*a = dayAccumulator{date: d}
	}
}

func (a *dayAccumulator) add(b Bar) {
	if DateOf(b.Timestamp) != a.date {
		return
	}
	if !a.seen || b.Low.LessThan(a.minLow) {
		a.minLow = b.Low
		a.seen = true
	}
}

func (a *dayAccumulator) below(level decimal.Decimal) bool {
	return a.seen && a.minLow.LessThan(level)
}

// Detector scans a four-bar window over the intraday series and emits at most
// one signal per calendar date. It owns the day lock and the scan position.
type Detector struct {
	bars       []Bar
	table      ReferenceTable
	rewardRisk decimal.Decimal

	next   int
	acc    dayAccumulator
	traded map[Date]struct{}
	stats  DetectorStats
}

func NewDetector(bars []Bar, table ReferenceTable, rewardRisk decimal.Decimal) *Detector {
	return &Detector{
		bars:       bars,
		table:      table,
		rewardRisk: rewardRisk,
		next:       2,
		traded:     make(map[Date]struct{}),
	}
}

// Next advances to the next emitted signal
func (d *Detector) Next() (Signal, bool) {
	for d.next+1 < len(d.bars) {
		i := d.next
		d.next++

		c1, c2, c3, c4 := d.bars[i-2], d.bars[i-1], d.bars[i], d.bars[i+1]
		day := DateOf(c3.Timestamp)

		// c1 becomes "strictly before c2" at this window
		d.acc.roll(day)
		d.acc.add(c1)

		if _, done := d.traded[day]; done {
			d.stats.count(ReasonDayLocked)
			continue
		}
		ref, ok := d.table.Lookup(day)
		if !ok {
			d.stats.count(ReasonMissingReference)
			continue
		}
		if !c2.Low.LessThan(ref) && !d.acc.below(ref) {
			d.stats.count(ReasonNotSwept)
			continue
		}
		if !isImbalance(c1, c2, c3) {
			d.stats.count(ReasonNoImbalance)
			continue
		}

		entry := c4.Open
		stop := c2.Low
		sig := Signal{
			Date:           day,
			EntryTime:      c4.Timestamp,
			EntryIndex:     i + 1,
			EntryPrice:     entry,
			StopPrice:      stop,
			TargetPrice:    entry.Add(entry.Sub(stop).Mul(d.rewardRisk)),
			ReferenceLevel: ref,
		}
		d.traded[day] = struct{}{}
		d.stats.count(ReasonEmitted)
		return sig, true
	}
	return Signal{}, false
}

// Signals yields signals lazily in chronological order
func (d *Detector) Signals() iter.Seq[Signal] {
	return func(yield func(Signal) bool) {
		for {
			sig, ok := d.Next()
			if !ok || !yield(sig) {
				return
			}
		}
	}
}

// Release removes the day lock for date so later windows may signal again
func (d *Detector) Release(date Date) {
	delete(d.traded, date)
}

// Traded reports whether date holds a signal
func (d *Detector) Traded(date Date) bool {
	_, ok := d.traded[date]
	return ok
}

func (d *Detector) Stats() DetectorStats { return d.stats }

// isImbalance: candle 2 closes above candle 1's high and candle 3 never trades back into it
func isImbalance(c1, c2, c3 Bar) bool {
	return c2.Close.GreaterThan(c1.High) && c3.Low.GreaterThan(c1.High)
}
