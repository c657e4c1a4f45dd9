// Package duration parses human-readable durations. It accepts everything
// Go's time.ParseDuration does, plus day and week units and optional
// whitespace and long-form unit names: "90ms", "1.5h", "2 days", "1w2d12h".
package duration

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// units maps every accepted unit spelling to its duration.
var units = map[string]time.Duration{
	"ns": time.Nanosecond, "nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,
	"us": time.Microsecond, "µs": time.Microsecond, "microsecond": time.Microsecond, "microseconds": time.Microsecond,
	"ms": time.Millisecond, "millisecond": time.Millisecond, "milliseconds": time.Millisecond,
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": Day, "day": Day, "days": Day,
	"w": Week, "wk": Week, "wks": Week, "week": Week, "weeks": Week,
}

// Parse parses a human-readable duration string: one or more number/unit
// pairs, optionally whitespace-separated, with an optional leading sign.
// A bare "0" is accepted without a unit.
func Parse(s string) (time.Duration, error) {
	orig := s
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimLeft(s, "+-")

	if s == "0" {
		return 0, nil
	}

	var total time.Duration
	pairs := 0
	for len(s) > 0 {
		s = strings.TrimSpace(s)
		if s == "" {
			break
		}

		// Leading number, integer or decimal.
		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("duration: invalid format %q", orig)
		}
		var value float64
		if _, err := fmt.Sscanf(s[:i], "%g", &value); err != nil {
			return 0, fmt.Errorf("duration: invalid number %q in %q", s[:i], orig)
		}
		s = strings.TrimSpace(s[i:])

		// Unit: the longest run of letters (µ included).
		j := 0
		for j < len(s) && (s[j] >= 'a' && s[j] <= 'z' || strings.HasPrefix(s[j:], "µ")) {
			if strings.HasPrefix(s[j:], "µ") {
				j += len("µ")
			} else {
				j++
			}
		}
		if j == 0 {
			return 0, fmt.Errorf("duration: missing unit in %q", orig)
		}
		unit, ok := units[s[:j]]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q in %q", s[:j], orig)
		}
		s = s[j:]

		total += time.Duration(value * float64(unit))
		pairs++
	}

	if pairs == 0 {
		return 0, fmt.Errorf("duration: invalid format %q", orig)
	}
	if negative {
		total = -total
	}
	return total, nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders d with the largest applicable units, omitting zero
// components: 90 minutes becomes "1h30m", 8 days becomes "1w1d".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, step := range []struct {
		unit time.Duration
		name string
	}{
		{Week, "w"}, {Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"},
		{time.Second, "s"}, {time.Millisecond, "ms"}, {time.Microsecond, "µs"}, {time.Nanosecond, "ns"},
	} {
		if n := d / step.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, step.name)
			d -= n * step.unit
		}
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}
