package marketdata

import (
	"fmt"
	"time"

	"liquidity-sweep-backtest/services/engine"
)

const DefaultTimezone = "America/New_York"

// LoadLocation resolves name, falling back to DefaultTimezone when empty
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", name, err)
	}
	return loc, nil
}

// InLocation returns a copy of bars with timestamps expressed in loc.
// Calendar dates, and so day boundaries, follow loc afterwards.
func InLocation(bars []engine.Bar, loc *time.Location) []engine.Bar {
	out := make([]engine.Bar, len(bars))
	for i, b := range bars {
		b.Timestamp = b.Timestamp.In(loc)
		out[i] = b
	}
	return out
}
