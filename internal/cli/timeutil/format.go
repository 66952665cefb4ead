// Package timeutil provides time parsing and formatting for CLI prompts and output.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// DisplayFormat is the layout used when showing timestamps to operators.
const DisplayFormat = "2006-01-02 15:04:05"

// compactFormat is the 14-digit layout used by MediaWiki timestamps.
const compactFormat = "20060102150405"

// ParseSearchDate parses an operator-supplied date in either
// "YYYY-MM-DD hh:mm:ss" or compact "YYYYMMDDhhmmss" form.
func ParseSearchDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := compactFormat
	if strings.Contains(s, "-") {
		layout = DisplayFormat
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a valid date (want YYYY-MM-DD hh:mm:ss or YYYYMMDDhhmmss)", s)
	}
	return t, nil
}

// ValidateSearchDate is a prompt validator built on ParseSearchDate.
func ValidateSearchDate(s string) error {
	_, err := ParseSearchDate(s)
	return err
}

// FormatTimestamp renders a timestamp for operator display, empty when zero.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DisplayFormat)
}
