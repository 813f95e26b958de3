package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Binary byte units.
const (
	BytesPerKB int64 = 1024
	BytesPerMB int64 = 1024 * BytesPerKB
	BytesPerGB int64 = 1024 * BytesPerMB
	BytesPerTB int64 = 1024 * BytesPerGB
)

var byteUnits = []struct {
	size   int64
	suffix string
}{
	{BytesPerTB, "TB"},
	{BytesPerGB, "GB"},
	{BytesPerMB, "MB"},
	{BytesPerKB, "KB"},
}

// FormatBytes renders n with two decimals in the largest unit that fits,
// e.g. "1.50 KB". Negative values format as "0 B".
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	for _, u := range byteUnits {
		if n >= u.size {
			return fmt.Sprintf("%.2f %s", float64(n)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%d B", n)
}

// ParseBytes reads sizes such as "512", "64KB", "1.5 MB" or "2g". Units
// are binary and case-insensitive; a bare number is bytes.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	numStr, unit := s, ""
	if split >= 0 {
		numStr, unit = s[:split], strings.ToUpper(strings.TrimSpace(s[split:]))
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size %q: no number", s)
	}

	value, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	multiplier := int64(1)
	switch unit {
	case "", "B":
	case "K", "KB", "KIB":
		multiplier = BytesPerKB
	case "M", "MB", "MIB":
		multiplier = BytesPerMB
	case "G", "GB", "GIB":
		multiplier = BytesPerGB
	case "T", "TB", "TIB":
		multiplier = BytesPerTB
	default:
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, unit)
	}

	return int64(value * float64(multiplier)), nil
}

// ByteSize is a byte count that reads human-readable sizes from the
// environment.
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler using ParseBytes.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := ParseBytes(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return FormatBytes(int64(b))
}
