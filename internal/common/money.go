package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAmount is returned when a money value cannot be parsed.
var ErrInvalidAmount = errors.New("invalid money amount")

// ParseMinorUnits converts a decimal money string (e.g. "40.00") into minor
// units. At most two fraction digits are accepted; the sign must be positive.
func ParseMinorUnits(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole = trimmed[:idx]
		frac = trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: too many fraction digits in %q", ErrInvalidAmount, value)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var total int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
		}
		total = total*10 + int64(r-'0')
	}
	return total, nil
}

// FormatMinorUnits renders minor units as a decimal string with two places.
func FormatMinorUnits(amount int64) string {
	neg := ""
	if amount < 0 {
		neg = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", neg, amount/100, amount%100)
}
