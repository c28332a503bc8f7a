package marketdata

import (
	"fmt"
	"time"

	"liquidity-sweep-backtest/services/engine"
)

// ResampleDaily aggregates bars into one bar per calendar date of their own
// location. The daily bar is stamped at local midnight.
func ResampleDaily(bars []engine.Bar) []engine.Bar {
	var out []engine.Bar
	var cur engine.Date
	for _, b := range bars {
		day := engine.DateOf(b.Timestamp)
		if len(out) == 0 || day != cur {
			cur = day
			nb := b
			nb.Timestamp = time.Date(day.Year, day.Month, day.Day, 0, 0, 0, 0, b.Timestamp.Location())
			out = append(out, nb)
			continue
		}
		merge(&out[len(out)-1], b)
	}
	return out
}

// Resample aggregates bars into epoch-aligned buckets of step
func Resample(bars []engine.Bar, step time.Duration) ([]engine.Bar, error) {
	if step <= 0 {
		return nil, fmt.Errorf("resample step must be > 0, got %s", step)
	}
	var out []engine.Bar
	var cur time.Time
	for _, b := range bars {
		bucket := b.Timestamp.Truncate(step)
		if len(out) == 0 || !bucket.Equal(cur) {
			cur = bucket
			nb := b
			nb.Timestamp = bucket
			out = append(out, nb)
			continue
		}
		merge(&out[len(out)-1], b)
	}
	return out, nil
}

// merge: open is first, high max, low min, close last
func merge(agg *engine.Bar, b engine.Bar) {
	if b.High.GreaterThan(agg.High) {
		agg.High = b.High
	}
	if b.Low.LessThan(agg.Low) {
		agg.Low = b.Low
	}
	agg.Close = b.Close
}
