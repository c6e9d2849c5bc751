// Package durationx parses the human-interval strings spec.md §6's
// olderThan option accepts ("1 second", "30 years"). No library in this
// corpus parses pluralised English-unit intervals: xhit/go-str2duration/v2
// (an indirect dependency surfaced via the pack's
// ikedam-terraform-provider-containerregistry manifest) only parses
// compact numeric-suffix form ("1d2h3m"), and hako/durafmt only formats a
// time.Duration back to English, it does not parse one. This is
// implemented directly against the standard library's regexp and time
// packages; see DESIGN.md for the considered alternatives.
package durationx

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var pattern = regexp.MustCompile(`^\s*(\d+)\s*(second|seconds|minute|minutes|hour|hours|day|days|week|weeks|month|months|year|years)\s*$`)

var unitDurations = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// Parse parses a human-interval string of the form "<n> <unit>" where unit
// is one of second(s), minute(s), hour(s), day(s), week(s), month(s),
// year(s). Rejected if not parseable with a recognised interval unit
// (spec.md §6).
func Parse(s string) (time.Duration, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unparseable interval %q: expected \"<n> <unit>\" with unit in second|minute|hour|day|week|month|year", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("unparseable interval count in %q: %w", s, err)
	}
	unit := singularize(m[2])
	d, ok := unitDurations[unit]
	if !ok {
		return 0, fmt.Errorf("unrecognised interval unit %q in %q", m[2], s)
	}
	return time.Duration(n) * d, nil
}

func singularize(unit string) string {
	if len(unit) > 1 && unit[len(unit)-1] == 's' {
		return unit[:len(unit)-1]
	}
	return unit
}
