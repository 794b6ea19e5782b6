package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "message." or "session.".
const (
	KindMessageReceived      = "message.received"
	KindMessageQueued        = "message.queued"
	KindMessageStatusChanged = "message.status_changed"
	KindMessageFailed        = "message.failed"

	KindSessionExpired     = "session.expired"
	KindSessionReconnected = "session.reconnected"

	KindConversationClosed   = "conversation.closed"
	KindConversationReopened = "conversation.reopened"
	KindParticipantInvited   = "conversation.participant_invited"
	KindParticipantResolved  = "conversation.participant_resolved"
)
