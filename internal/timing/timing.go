// Package timing computes authoritative attempt deadlines. Only the server
// clock and the immutable start time decide expiry; the client-reported
// countdown cached on the attempt is never consulted here.
package timing

import "time"

// Deadline returns the instant the attempt expires.
func Deadline(startedAt time.Time, durationMinutes int) time.Time {
	return startedAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// Remaining returns the authoritative remaining whole seconds, floored at zero.
func Remaining(startedAt time.Time, durationMinutes int, now time.Time) int {
	remaining := Deadline(startedAt, durationMinutes).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// Expired reports whether the attempt deadline has passed.
func Expired(startedAt time.Time, durationMinutes int, now time.Time) bool {
	return !now.Before(Deadline(startedAt, durationMinutes))
}
