package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseScaled converts a decimal string to a scaled integer. Values
// with more fractional digits than the scale keeps are rejected rather
// than rounded.
func ParseScaled(s string, scale Scale) (int64, error) {
	if s == "" {
		return 0, nil
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > int(scale) {
		frac = strings.TrimRight(frac, "0")
		if len(frac) > int(scale) {
			return 0, fmt.Errorf("decimal %q exceeds scale %d", s, scale)
		}
	}
	for len(frac) < int(scale) {
		frac += "0"
	}
	v, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return v, nil
}

// FormatScaled renders a scaled integer as a decimal string.
func FormatScaled(v int64, scale Scale) string {
	if scale == 0 {
		return strconv.FormatInt(v, 10)
	}
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	for len(s) <= int(scale) {
		s = "0" + s
	}
	cut := len(s) - int(scale)
	out := s[:cut] + "." + s[cut:]
	if neg {
		out = "-" + out
	}
	return out
}
