// Package lotstatus derives the effective lifecycle state of a lot from its
// timestamps and computes anti-sniping deadline extensions. Everything here is
// pure; callers supply the current time.
package lotstatus

import (
	"time"

	"live-auction/internal/models"
)

// DefaultAntiSnipeWindow is how close to the deadline a bid must land to push it back
const DefaultAntiSnipeWindow = 10 * time.Second

// Resolve returns the effective status of lot at now.
// ENDED is terminal: a persisted ENDED status is returned regardless of timestamps.
func Resolve(lot models.Lot, now time.Time) models.Status {
	if lot.Status == models.StatusEnded {
		return models.StatusEnded
	}
	if now.Before(lot.StartsAt) {
		return models.StatusScheduled
	}
	if !now.Before(lot.EndsAt) {
		return models.StatusEnded
	}
	return models.StatusLive
}

// Extend returns the deadline after a bid accepted at now.
//
// When endsAt - now <= window the deadline moves to now + window. The result is
// never earlier than the current endsAt. A positive maxExtension caps the
// cumulative extension at OriginalEndsAt + maxExtension.
func Extend(lot models.Lot, now time.Time, window, maxExtension time.Duration) time.Time {
	if window <= 0 || lot.EndsAt.Sub(now) > window {
		return lot.EndsAt
	}
	next := now.Add(window)
	if maxExtension > 0 {
		base := lot.OriginalEndsAt
		if base.IsZero() {
			base = lot.EndsAt
		}
		if limit := base.Add(maxExtension); next.After(limit) {
			next = limit
		}
	}
	if next.Before(lot.EndsAt) {
		return lot.EndsAt
	}
	return next
}

// Rank orders statuses for listings: live lots first, then upcoming, then finished.
func Rank(s models.Status) int {
	switch s {
	case models.StatusLive:
		return 0
	case models.StatusScheduled:
		return 1
	default:
		return 2
	}
}
