// Package window computes the 24-hour messaging window status for a
// conversation. After a contact's inbound message the provider accepts
// free-form outbound messages for 24 hours; after that only templated
// messages may be sent.
package window

import "time"

// Period is the provider's response-window duration.
const Period = 24 * time.Hour

// Status describes whether the messaging window is currently open and,
// if so, how much time remains. When closed (or when the conversation
// never had an inbound message) the remaining fields are zero and
// ExpiresAt is the zero time.
type Status struct {
	IsOpen           bool      `json:"isOpen"`
	HoursRemaining   int       `json:"hoursRemaining"`
	MinutesRemaining int       `json:"minutesRemaining"`
	ExpiresAt        time.Time `json:"expiresAt,omitzero"`
}

// Compute derives the window status from the last inbound message
// timestamp and the current time. A zero lastInboundAt means the contact
// never wrote in, so the window is closed.
//
// The window closes at exactly Period elapsed, inclusive: the instant of
// expiry is already closed, never "0h 0m open". Compute must always be
// called with the stored timestamp rather than any decremented counter,
// so that repeated calls at arbitrary resolution cannot drift.
func Compute(lastInboundAt, now time.Time) Status {
	if lastInboundAt.IsZero() {
		return Status{}
	}

	elapsed := now.Sub(lastInboundAt)
	if elapsed >= Period {
		return Status{}
	}

	remaining := Period - elapsed
	return Status{
		IsOpen:           true,
		HoursRemaining:   int(remaining / time.Hour),
		MinutesRemaining: int((remaining % time.Hour) / time.Minute),
		ExpiresAt:        lastInboundAt.Add(Period),
	}
}
