package media

import "time"

// mwDateLayout is MediaWiki's 14-digit timestamp format.
const mwDateLayout = "20060102150405"

// epochFallback is returned for malformed (but present) MediaWiki
// timestamps, keeping discovery running over corrupt rows.
var epochFallback = time.Date(1970, 1, 1, 0, 0, 1, 0, time.UTC)

// ParseMWDate converts a MediaWiki-formatted timestamp (YYYYMMDDHHMMSS)
// into a time. Empty input returns nil; a malformed value returns one
// second past the epoch. It never fails.
func ParseMWDate(timestamp string) *time.Time {
	if timestamp == "" {
		return nil
	}
	t, err := time.ParseInLocation(mwDateLayout, timestamp, time.UTC)
	if err != nil {
		t = epochFallback
	}
	return &t
}

// FormatMWDate renders a time in MediaWiki's 14-digit format, empty for nil.
func FormatMWDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(mwDateLayout)
}
