// Package response derives a conversation-level attention status from the
// ordered message history. The status drives operator work prioritization:
// which conversations are waiting on an agent, which contacts never
// replied, and which an agent is actively working.
package response

import "time"

// Direction of a message relative to the contact center.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Message is the minimal view of a conversation message the classifier
// needs. Callers map their storage rows into this shape.
type Message struct {
	Direction Direction
	At        time.Time
}

// Status is the derived attention state of a conversation.
type Status string

const (
	// Waiting means an agent sent the last message and the contact has
	// not replied within the active-work threshold.
	Waiting Status = "waiting"
	// Never means outbound messages exist (or the thread is empty) but
	// the contact has never written in.
	Never Status = "never"
	// Replied means the contact's inbound message ended the thread.
	Replied Status = "replied"
	// InProgress means an agent sent recently and is presumed still
	// working the conversation.
	InProgress Status = "in_progress"
)

// Classify derives the attention status from the message list and the
// clock. It is total: every list, including the empty one, yields exactly
// one status. inProgressWindow is the recency threshold separating
// InProgress from Waiting; it is a product-tunable parameter, not a
// constant.
//
// Tie-break: when an inbound and an outbound message share an identical
// timestamp, the inbound one is treated as later, so the thread counts
// as "the contact responded".
func Classify(msgs []Message, now time.Time, inProgressWindow time.Duration) Status {
	var last *Message
	sawInbound := false

	for i := range msgs {
		m := &msgs[i]
		if m.Direction == Inbound {
			sawInbound = true
		}
		if last == nil || after(m, last) {
			last = m
		}
	}

	if !sawInbound {
		return Never
	}
	if last.Direction == Inbound {
		return Replied
	}
	if now.Sub(last.At) < inProgressWindow {
		return InProgress
	}
	return Waiting
}

// after reports whether a should replace b as the latest message,
// applying the inbound-wins tie-break on equal timestamps.
func after(a, b *Message) bool {
	if a.At.After(b.At) {
		return true
	}
	return a.At.Equal(b.At) && a.Direction == Inbound && b.Direction == Outbound
}
