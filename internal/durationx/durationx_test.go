package durationx

import (
	"testing"
	"time"
)

func TestParseKnownUnits(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1 second", time.Second},
		{"30 seconds", 30 * time.Second},
		{"5 minutes", 5 * time.Minute},
		{"2 hours", 2 * time.Hour},
		{"1 day", 24 * time.Hour},
		{"3 weeks", 3 * 7 * 24 * time.Hour},
		{"6 months", 6 * 30 * 24 * time.Hour},
		{"30 years", 30 * 365 * 24 * time.Hour},
		{"  7   days  ", 7 * 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Parse(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "forever", "1", "day", "1.5 days", "-1 days", "1 fortnights"} {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q) expected error, got none", in)
		}
	}
}
