package session

import "time"

// dateKeyLayout is the wire format of a session date key.
const dateKeyLayout = "2006-01-02"

// DateKey derives the session date key for the given instant in the fixed
// civil timezone. Pure function; the key changes exactly once per civil day.
func DateKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(dateKeyLayout)
}

// NextBoundary returns the instant at which the session date key next changes:
// midnight of the following civil day in loc.
func NextBoundary(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, loc)
}

// IsValidDateKey reports whether s is a well-formed session date key.
func IsValidDateKey(s string) bool {
	if len(s) != len(dateKeyLayout) {
		return false
	}
	_, err := time.Parse(dateKeyLayout, s)
	return err == nil
}
