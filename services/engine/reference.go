package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ReferenceTable maps a calendar date to the low of the preceding daily bar
type ReferenceTable map[Date]decimal.Decimal

// BuildReferenceTable maps date(daily[k]) to low(daily[k-1]) for k in 1..M-1
func BuildReferenceTable(daily []Bar) (ReferenceTable, error) {
	if len(daily) < minDailyBars {
		return nil, fmt.Errorf("%w: need at least %d daily bars, got %d", ErrInsufficientData, minDailyBars, len(daily))
	}
	table := make(ReferenceTable, len(daily)-1)
	for k := 1; k < len(daily); k++ {
		table[DateOf(daily[k].Timestamp)] = daily[k-1].Low
	}
	return table, nil
}

// Lookup returns the prior-day low for d
func (t ReferenceTable) Lookup(d Date) (decimal.Decimal, bool) {
	v, ok := t[d]
	return v, ok
}

// Dates returns the table's dates in ascending order
func (t ReferenceTable) Dates() []Date {
	out := make([]Date, 0, len(t))
	for d := range t {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
