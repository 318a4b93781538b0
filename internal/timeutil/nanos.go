package timeutil

import "time"

// UnixNanos returns t as unix nanoseconds, with the zero time as 0 so that
// "unset" survives JSON and SQLite.
func UnixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromUnixNanos is the inverse of UnixNanos. Times are returned in UTC.
func FromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
