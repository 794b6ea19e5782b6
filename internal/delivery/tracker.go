// Package delivery tracks the lifecycle of outbound messages through
// provider acknowledgements and receipts. Per message the status moves
// forward along queued → sent → delivered → read, with failed as a side
// exit from queued or sent; receipts may arrive out of order but are
// applied monotonically, and duplicates are no-ops.
package delivery

import (
	"fmt"
	"time"

	"github.com/pvallone/chatdesk/internal/bus"
	"github.com/pvallone/chatdesk/internal/errclass"
	"github.com/pvallone/chatdesk/internal/store"
	"go.uber.org/zap"
)

// rank orders the forward statuses. failed is terminal and handled apart.
var rank = map[string]int{
	store.StatusQueued:    0,
	store.StatusSent:      1,
	store.StatusDelivered: 2,
	store.StatusRead:      3,
}

// Advance decides the next stored status given the current one and an
// incoming receipt status. It returns the status to store and whether a
// write should happen at all. Pure: the tracker and tests share it.
//
// Rules: no backward moves, duplicates are no-ops, failed is only
// reachable from queued/sent and is terminal, and a read receipt
// arriving before delivered back-fills the delivered step implicitly by
// jumping straight to read.
func Advance(current, incoming string) (string, bool) {
	if current == store.StatusFailed {
		return current, false
	}
	if incoming == store.StatusFailed {
		if rank[current] >= rank[store.StatusDelivered] {
			return current, false
		}
		return store.StatusFailed, true
	}
	curRank, ok := rank[current]
	if !ok {
		return current, false
	}
	newRank, ok := rank[incoming]
	if !ok || newRank <= curRank {
		return current, false
	}
	return incoming, true
}

// Receipt is one provider acknowledgement for an outbound message.
type Receipt struct {
	MessageID    string
	NewStatus    string
	ErrorPayload any
	At           time.Time
}

// StatusChange is the bus payload published when a message's stored
// status moves.
type StatusChange struct {
	ConversationID string
	MessageID      string
	From           string
	To             string
}

// Tracker applies receipts to the store and announces changes on the bus.
type Tracker struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewTracker creates a delivery tracker.
func NewTracker(db *store.DB, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{db: db, bus: b, logger: logger}
}

// Apply processes one receipt. Receipts for unknown messages are an
// error; receipts for inbound messages and receipts that would not move
// the status forward are silently ignored.
func (t *Tracker) Apply(r Receipt) error {
	msg, err := t.db.GetMessageByMsgID(r.MessageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("receipt for unknown message %s", r.MessageID)
	}
	if msg.Direction != store.DirectionOutbound {
		return nil
	}

	next, changed := Advance(msg.Status, r.NewStatus)
	if !changed {
		return nil
	}

	if next == store.StatusFailed {
		details := errclass.Classify(r.ErrorPayload)
		if err := t.db.MarkMessageFailed(msg.MsgID, string(details.Kind), details.Message, details.CanRetry, details.RequiresReconnect); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if t.logger != nil {
			t.logger.Warn("message delivery failed",
				zap.String("msg_id", msg.MsgID),
				zap.String("kind", string(details.Kind)))
		}
		t.bus.Emit(bus.KindMessageFailed, StatusChange{
			ConversationID: msg.ConversationID,
			MessageID:      msg.MsgID,
			From:           msg.Status,
			To:             store.StatusFailed,
		})
		return nil
	}

	if err := t.db.UpdateMessageStatus(msg.MsgID, next); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	t.bus.Emit(bus.KindMessageStatusChanged, StatusChange{
		ConversationID: msg.ConversationID,
		MessageID:      msg.MsgID,
		From:           msg.Status,
		To:             next,
	})
	return nil
}
