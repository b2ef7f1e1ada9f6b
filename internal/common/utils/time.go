package utils

import (
	"fmt"
	"regexp"
	"time"
)

// Upstream compact date layouts. The clinic API does not accept ISO dates;
// agenda lookups take yyyyMMdd and appointment starts take yyyyMMddHHmm.
const (
	CompactDateLayout     = "20060102"
	CompactDateTimeLayout = "200601021504"
	LoginTimestampLayout  = "20060102150405"
)

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// NormalizeDate converts a human-entered YYYY-MM-DD date into the upstream's
// compact yyyyMMdd format. Malformed or impossible dates are rejected.
func NormalizeDate(isoDate string) (string, error) {
	if !isoDatePattern.MatchString(isoDate) {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", isoDate)
	}
	parsed, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", isoDate, err)
	}
	return parsed.Format(CompactDateLayout), nil
}

// NormalizeDateTime converts "YYYY-MM-DD HH:MM" into the upstream's compact
// yyyyMMddHHmm format used for appointment start times.
func NormalizeDateTime(isoDateTime string) (string, error) {
	parsed, err := time.Parse("2006-01-02 15:04", isoDateTime)
	if err != nil {
		return "", fmt.Errorf("invalid datetime %q: expected YYYY-MM-DD HH:MM", isoDateTime)
	}
	return parsed.Format(CompactDateTimeLayout), nil
}

// IsCompactDateTime reports whether a value is already in yyyyMMddHHmm form.
func IsCompactDateTime(value string) bool {
	_, err := time.Parse(CompactDateTimeLayout, value)
	return err == nil
}
