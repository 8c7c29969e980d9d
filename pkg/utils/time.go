package utils

import "time"

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// UnixToTime converts a unix timestamp in seconds to UTC. Non-positive input yields the zero time.
func UnixToTime(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(timestamp, 0).UTC()
}

// UnixToTimeWithMilliseconds converts a unix timestamp in milliseconds to UTC.
func UnixToTimeWithMilliseconds(timestamp int64) time.Time {
	if timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(timestamp).UTC()
}

// UnixAutoToTime accepts either seconds or milliseconds. Gateways disagree on the unit,
// and no valid seconds value reaches 1e12 before the year 33658.
func UnixAutoToTime(timestamp int64) time.Time {
	if timestamp >= 1e12 {
		return UnixToTimeWithMilliseconds(timestamp)
	}
	return UnixToTime(timestamp)
}

// FormatISO8601 formats t as RFC3339 in UTC.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// WaitSeconds returns whole seconds elapsed from since to now, never negative.
func WaitSeconds(since, now time.Time) int64 {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return int64(now.Sub(since) / time.Second)
}
