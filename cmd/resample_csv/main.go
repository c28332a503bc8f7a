package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"liquidity-sweep-backtest/services/engine"
	"liquidity-sweep-backtest/services/marketdata"
)

// parseCadence accepts 5m, 15min, 1h, 1d or a plain number of minutes
func parseCadence(s string) (time.Duration, bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1d" || s == "d" || s == "daily" {
		return 24 * time.Hour, true, nil
	}
	num, unit := s, time.Minute
	switch {
	case strings.HasSuffix(s, "min"):
		num = strings.TrimSuffix(s, "min")
	case strings.HasSuffix(s, "m"):
		num = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		num, unit = strings.TrimSuffix(s, "h"), time.Hour
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, false, fmt.Errorf("unsupported cadence: %s", s)
	}
	if n <= 0 {
		return 0, false, fmt.Errorf("cadence must be positive: %s", s)
	}
	return time.Duration(n) * unit, false, nil
}

func main() {
	in := flag.String("in", "", "Input CSV (timestamp,open,high,low,close)")
	out := flag.String("out", "", "Output CSV path")
	dst := flag.String("dst", "1d", "Target cadence (e.g., 15m, 1h, 1d)")
	tz := flag.String("tz", marketdata.DefaultTimezone, "Timezone defining daily boundaries")
	flag.Parse()

	if *in == "" || *out == "" {
		panic("-in and -out are required")
	}
	step, daily, err := parseCadence(*dst)
	if err != nil {
		panic(err)
	}
	loc, err := marketdata.LoadLocation(*tz)
	if err != nil {
		panic(err)
	}

	bars, err := marketdata.LoadCSV(*in, loc)
	if err != nil {
		panic(err)
	}
	bars = marketdata.InLocation(bars, loc)

	var agg []engine.Bar
	if daily {
		agg = marketdata.ResampleDaily(bars)
	} else if agg, err = marketdata.Resample(bars, step); err != nil {
		panic(err)
	}

	of, err := os.Create(*out)
	if err != nil {
		panic(err)
	}
	defer of.Close()
	w := bufio.NewWriter(of)
	if err := marketdata.WriteCSV(w, agg); err != nil {
		panic(err)
	}
	if err := w.Flush(); err != nil {
		panic(err)
	}
	fmt.Printf("wrote %d bars (%s) from %d input bars to %s\n", len(agg), *dst, len(bars), *out)
}
