package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	rawDateLayout = "20060102"
	isoDateLayout = "2006-01-02"
)

var ErrNotDigits = errors.New("token is not numeric")

// NormalizeDate turns a YYYYMMDD token into YYYY-MM-DD. Tokens that are not
// exactly eight digits forming a real date are returned unchanged.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) != 8 || !isDigits(raw) {
		return raw
	}
	dt, err := time.Parse(rawDateLayout, raw)
	if err != nil {
		return raw
	}
	return dt.Format(isoDateLayout)
}

// NormalizeTime turns an HHMMSS token into HH:MM:SS. Tokens shorter than six
// digits are returned unchanged; longer tokens use their first six digits.
func NormalizeTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) < 6 || !isDigits(raw) {
		return raw
	}
	return raw[0:2] + ":" + raw[2:4] + ":" + raw[4:6]
}

// DateStamp converts a normalized date back to the YYYYMMDD ledger stamp.
// Values that are not ISO dates are stripped to their digits.
func DateStamp(date string) string {
	if dt, err := time.Parse(isoDateLayout, date); err == nil {
		return dt.Format(rawDateLayout)
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, date)
}

// ParseMinorUnits reads an unsigned integer count of cents and returns the
// amount in major units. Leading zeros are ignored, an all-zero token is 0.
func ParseMinorUnits(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !isDigits(raw) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNotDigits, raw)
	}

	trimmed := strings.TrimLeft(raw, "0")
	if trimmed == "" {
		return decimal.Zero, nil
	}

	cents, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return cents.Shift(-2), nil
}

// FormatAmount renders an amount with exactly two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParseAmount reads a rendered amount such as "150.40" back into a decimal.
func ParseAmount(text string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(text))
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
