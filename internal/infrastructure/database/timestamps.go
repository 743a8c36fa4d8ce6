package database

import "time"

// TimeLayout is the fixed-width UTC layout used for every timestamp column.
// Fixed width keeps lexical ORDER BY on TEXT columns chronological.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout after converting it to UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout value. RFC3339 is accepted for rows written
// by hand or by older tooling.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
