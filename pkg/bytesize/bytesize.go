// Package bytesize parses and formats human-readable byte sizes using
// binary (1024) multipliers: "64MB", "1.5 GiB", "500KB", or a bare byte
// count like "1024".
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size represents a byte size as int64.
type Size int64

// Size constants, binary (1024) base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
	PB Size = 1024 * TB
)

// units maps every accepted unit spelling (lowercased) to its multiplier.
var units = map[string]Size{
	"": B, "b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
	"p": PB, "pb": PB, "pib": PB,
}

// Parse parses a human-readable byte size: an integer or decimal number
// followed by an optional unit, with optional whitespace between them.
// No unit means bytes.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	i := 0
	for i < len(trimmed) && (trimmed[i] >= '0' && trimmed[i] <= '9' || trimmed[i] == '.') {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(trimmed[:i], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", trimmed[:i], err)
	}

	unit, ok := units[strings.ToLower(strings.TrimSpace(trimmed[i:]))]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", strings.TrimSpace(trimmed[i:]))
	}

	return Size(value * float64(unit)), nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Format renders s with the largest unit that keeps the value >= 1,
// trimming trailing zeros: 5242880 becomes "5MB", 1610612736 "1.5GB".
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	negative := s < 0
	if negative {
		s = -s
	}

	var result string
	switch {
	case s >= PB:
		result = formatUnit(float64(s)/float64(PB), "PB")
	case s >= TB:
		result = formatUnit(float64(s)/float64(TB), "TB")
	case s >= GB:
		result = formatUnit(float64(s)/float64(GB), "GB")
	case s >= MB:
		result = formatUnit(float64(s)/float64(MB), "MB")
	case s >= KB:
		result = formatUnit(float64(s)/float64(KB), "KB")
	default:
		result = fmt.Sprintf("%dB", s)
	}

	if negative {
		return "-" + result
	}
	return result
}

func formatUnit(value float64, unit string) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d%s", int64(value), unit)
	}
	formatted := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", value), "0"), ".")
	return formatted + unit
}

// Bytes returns the size in bytes as int64.
func (s Size) Bytes() int64 {
	return int64(s)
}

// Int64 returns the size as int64 (alias for Bytes).
func (s Size) Int64() int64 {
	return int64(s)
}

// String returns a human-readable representation.
func (s Size) String() string {
	return Format(s)
}
