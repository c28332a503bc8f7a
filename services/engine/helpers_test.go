package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

var session = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// mk builds a bar n five-minute steps after start
func mk(start time.Time, n int, o, h, l, c string) Bar {
	return Bar{
		Timestamp: start.Add(time.Duration(n) * 5 * time.Minute),
		Open:      d(o),
		High:      d(h),
		Low:       d(l),
		Close:     d(c),
	}
}

func dailyBar(day string, low string) Bar {
	t, _ := time.Parse("2006-01-02", day)
	return Bar{Timestamp: t, Open: d(low), High: d(low).Add(d("10")), Low: d(low), Close: d(low)}
}

// dailyPDL100 yields reference {2024-01-02: 100}
func dailyPDL100() []Bar {
	return []Bar{dailyBar("2024-01-01", "100"), dailyBar("2024-01-02", "96")}
}

// scenarioA is a sweep of 100 followed by an imbalance, entry 106.5 stop 99
func scenarioA() []Bar {
	return []Bar{
		mk(session, 0, "104", "105", "103", "104.5"),
		mk(session, 1, "104.5", "107", "99", "106"),
		mk(session, 2, "106", "108", "106", "107"),
		mk(session, 3, "106.5", "107", "106", "106.8"),
	}
}

func withTail(bars []Bar, tail ...[4]string) []Bar {
	out := append([]Bar(nil), bars...)
	for _, p := range tail {
		out = append(out, mk(session, len(out), p[0], p[1], p[2], p[3]))
	}
	return out
}
