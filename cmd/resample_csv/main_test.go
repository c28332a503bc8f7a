package main

import (
	"testing"
	"time"
)

func TestParseCadence(t *testing.T) {
	cases := []struct {
		in    string
		step  time.Duration
		daily bool
		ok    bool
	}{
		{"1d", 24 * time.Hour, true, true},
		{"Daily", 24 * time.Hour, true, true},
		{"15m", 15 * time.Minute, false, true},
		{"5min", 5 * time.Minute, false, true},
		{"4h", 4 * time.Hour, false, true},
		{"30", 30 * time.Minute, false, true},
		{"0m", 0, false, false},
		{"-5m", 0, false, false},
		{"0", 0, false, false},
		{"weekly", 0, false, false},
	}
	for _, tc := range cases {
		step, daily, err := parseCadence(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: err %v", tc.in, err)
		}
		if tc.ok && (step != tc.step || daily != tc.daily) {
			t.Fatalf("%q: got %s daily=%v", tc.in, step, daily)
		}
	}
}
