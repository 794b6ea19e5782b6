package store

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery statuses. Outbound messages move forward along
// queued → sent → delivered → read, with failed as a side exit; inbound
// messages are stored as delivered on arrival.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Provenance tags for outbound messages. Display-only; state logic never
// branches on them.
const (
	SentByOperator = "operator"
	SentBySystem   = "system"
	SentByCRM      = "crm"
)

// Conversation is one contact thread.
type Conversation struct {
	ID            string
	Contact       string
	Name          string
	LastInboundAt int64 // unix ms; 0 = contact never wrote in
}

// Message is one message in a conversation.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	Direction      string
	Body           string
	SentBy         string
	Status         string
	CreatedAt      int64 // unix ms, authoritative ordering key

	// Populated iff Status == failed.
	ErrorKind              string
	ErrorMessage           string
	ErrorCanRetry          bool
	ErrorRequiresReconnect bool
}

// Closure records an operator closing a conversation. Closures are
// append-only: reopening stamps ReopenedAt and the record becomes
// historical, it is never deleted.
type Closure struct {
	ID             int64
	ConversationID string
	Reason         string
	ClosedAt       int64
	ReopenedAt     int64 // 0 = still the active closure
}

// Invitation records an operator being invited into a conversation.
// Resolution removes the operator from the active-participant set but the
// record persists for audit.
type Invitation struct {
	ID             string
	ConversationID string
	OperatorID     string
	InvitedBy      string
	Priority       int // 0-5 ordinal
	InvitedAt      int64
	ResolvedAt     int64 // 0 = still active
}
