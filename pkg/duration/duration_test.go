package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		// Standard Go syntax
		{"nanoseconds", "100ns", 100 * time.Nanosecond, false},
		{"microseconds", "250us", 250 * time.Microsecond, false},
		{"microseconds unicode", "250µs", 250 * time.Microsecond, false},
		{"milliseconds", "90ms", 90 * time.Millisecond, false},
		{"seconds", "45s", 45 * time.Second, false},
		{"minutes", "30m", 30 * time.Minute, false},
		{"hours", "720h", 720 * time.Hour, false},
		{"combined", "1h30m", 90 * time.Minute, false},
		{"fractional", "1.5h", 90 * time.Minute, false},
		{"fractional seconds", "2.5s", 2500 * time.Millisecond, false},

		// Day and week extensions
		{"days", "30d", 30 * Day, false},
		{"single day", "1d", Day, false},
		{"days and hours", "1d12h", 36 * time.Hour, false},
		{"weeks", "2w", 2 * Week, false},
		{"weeks and days", "1w2d", 9 * Day, false},
		{"weeks days hours", "1w2d12h", 9*Day + 12*time.Hour, false},
		{"full combo", "1w2d3h4m5s", 9*Day + 3*time.Hour + 4*time.Minute + 5*time.Second, false},

		// Long unit names and whitespace
		{"days long", "2 days", 2 * Day, false},
		{"weeks long", "2 weeks", 2 * Week, false},
		{"hours long", "3 hours", 3 * time.Hour, false},
		{"minutes long", "30 minutes", 30 * time.Minute, false},
		{"seconds long", "5 seconds", 5 * time.Second, false},
		{"abbreviated", "2 hrs", 2 * time.Hour, false},
		{"mixed spacing", "1w 2d 12h", 9*Day + 12*time.Hour, false},
		{"surrounding space", "  5m  ", 5 * time.Minute, false},
		{"uppercase", "5M", 5 * time.Minute, false},

		// Sign handling
		{"negative", "-5m", -5 * time.Minute, false},
		{"negative combined", "-1h30m", -90 * time.Minute, false},

		// Zero
		{"bare zero", "0", 0, false},
		{"zero seconds", "0s", 0, false},

		// Errors
		{"empty", "", 0, true},
		{"bare number", "42", 0, true},
		{"unknown unit", "5fortnights", 0, true},
		{"months dropped", "1mo", 0, true},
		{"years dropped", "1y", 0, true},
		{"garbage", "invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMustParse(t *testing.T) {
	assert.Equal(t, 90*time.Minute, MustParse("1h30m"))
	assert.Panics(t, func() { MustParse("not a duration") })
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected string
	}{
		{"zero", 0, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"minutes seconds", 90 * time.Second, "1m30s"},
		{"hours", 2 * time.Hour, "2h"},
		{"one day", Day, "1d"},
		{"day and hours", 36 * time.Hour, "1d12h"},
		{"one week", Week, "1w"},
		{"week and day", 8 * Day, "1w1d"},
		{"milliseconds", 250 * time.Millisecond, "250ms"},
		{"mixed subsecond", time.Second + 5*time.Millisecond, "1s5ms"},
		{"negative", -90 * time.Minute, "-1h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Format(tt.input))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		0,
		50 * time.Millisecond,
		time.Second,
		90 * time.Minute,
		36 * time.Hour,
		9*Day + 12*time.Hour,
		3 * Week,
	} {
		got, err := Parse(Format(d))
		require.NoError(t, err, "formatting %v", d)
		assert.Equal(t, d, got)
	}
}

func TestParseEquivalence(t *testing.T) {
	groups := [][]string{
		{"1d", "1 day", "24h", "24 hours"},
		{"1w", "1 week", "7d", "7 days", "168h"},
		{"90m", "1h30m", "1.5h"},
	}

	for _, group := range groups {
		want := MustParse(group[0])
		for _, s := range group[1:] {
			assert.Equal(t, want, MustParse(s), "%q should equal %q", s, group[0])
		}
	}
}
