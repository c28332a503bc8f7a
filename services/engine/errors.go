package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData aborts a run before any simulation starts
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateRisk marks a signal whose entry equals its stop
	ErrDegenerateRisk = errors.New("degenerate risk distance")
	// ErrInvalidConfig rejects a run configuration
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnorderedSeries rejects a bar series whose timestamps do not strictly increase
	ErrUnorderedSeries = errors.New("bar timestamps not strictly increasing")
)

const (
	minDailyBars    = 2
	minIntradayBars = 4
)

func checkOrdered(kind string, bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: %s bar %d at %s", ErrUnorderedSeries, kind, i, bars[i].Timestamp)
		}
	}
	return nil
}

// checkDailyDates requires one daily bar per calendar date, in ascending date order
func checkDailyDates(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		prev, cur := DateOf(bars[i-1].Timestamp), DateOf(bars[i].Timestamp)
		if !prev.Before(cur) {
			return fmt.Errorf("%w: daily bar %d dated %s after %s", ErrUnorderedSeries, i, cur, prev)
		}
	}
	return nil
}
