// Package send is the outbound dispatch path. It enforces the session
// veto, per-conversation send exclusivity, and the bounded provider
// timeout, and runs every failure through the error classifier. There
// are no automatic retries: a retry is a new explicit send, guided by
// the canRetry flag the caller receives.
package send

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pvallone/chatdesk/internal/bus"
	"github.com/pvallone/chatdesk/internal/errclass"
	"github.com/pvallone/chatdesk/internal/guard"
	"github.com/pvallone/chatdesk/internal/lifecycle"
	"github.com/pvallone/chatdesk/internal/store"
	"go.uber.org/zap"
)

// ErrSendInFlight is returned when a conversation already has an
// outbound send pending. The second attempt is rejected synchronously,
// never queued; this is what stops a double-click from producing a
// duplicate message.
var ErrSendInFlight = errors.New("a send is already in flight for this conversation")

// Provider delivers an outbound message to the messaging provider and
// returns the provider-assigned acknowledgement for it.
type Provider interface {
	SendText(ctx context.Context, contact, body string) error
}

// Result is the synchronous outcome of a send attempt. Exactly one of
// OK or Err is meaningful.
type Result struct {
	OK        bool              `json:"ok"`
	MessageID string            `json:"messageId,omitempty"`
	Err       *errclass.Details `json:"error,omitempty"`
}

// Dispatcher owns the send path for all conversations.
type Dispatcher struct {
	db       *store.DB
	provider Provider
	guard    *guard.Guard
	locks    *lifecycle.Manager
	bus      *bus.Bus
	logger   *zap.Logger
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(db *store.DB, provider Provider, g *guard.Guard, locks *lifecycle.Manager, b *bus.Bus, logger *zap.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		db:       db,
		provider: provider,
		guard:    g,
		locks:    locks,
		bus:      b,
		logger:   logger,
		timeout:  timeout,
	}
}

// Send attempts one outbound message. The session veto comes first so an
// expired session never costs a wasted network call; then the send lock,
// then the provider call under a bounded timeout. The queued message row
// is written before the provider call so a failure is visible with its
// classified error rather than disappearing.
func (d *Dispatcher) Send(ctx context.Context, conversationID, body, sentBy string) (Result, error) {
	if d.guard.Current() == guard.Expired {
		details := errclass.Classify("session expired")
		return Result{Err: &details}, nil
	}

	if !d.locks.TryBeginSend(conversationID) {
		return Result{}, ErrSendInFlight
	}
	defer d.locks.EndSend(conversationID)

	conv, err := d.db.GetConversation(conversationID)
	if err != nil {
		return Result{}, err
	}
	if conv == nil {
		return Result{}, errors.New("unknown conversation " + conversationID)
	}

	msgID := uuid.New().String()
	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          msgID,
		Direction:      store.DirectionOutbound,
		Body:           body,
		SentBy:         sentBy,
		Status:         store.StatusQueued,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := d.db.InsertMessage(msg); err != nil {
		return Result{}, err
	}
	d.bus.Emit(bus.KindMessageQueued, msgID)

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.provider.SendText(sendCtx, conv.Contact, body); err != nil {
		details := d.classifyFailure(sendCtx, err)
		if dbErr := d.db.MarkMessageFailed(msgID, string(details.Kind), details.Message, details.CanRetry, details.RequiresReconnect); dbErr != nil {
			return Result{}, dbErr
		}
		if details.RequiresReconnect {
			d.guard.Invalidate()
		}
		if d.logger != nil {
			d.logger.Warn("send failed",
				zap.String("conversation_id", conversationID),
				zap.String("msg_id", msgID),
				zap.String("kind", string(details.Kind)),
				zap.Error(err))
		}
		d.bus.Emit(bus.KindMessageFailed, msgID)
		return Result{MessageID: msgID, Err: &details}, nil
	}

	if err := d.db.UpdateMessageStatus(msgID, store.StatusSent); err != nil {
		return Result{}, err
	}
	if d.logger != nil {
		d.logger.Info("message sent",
			zap.String("conversation_id", conversationID),
			zap.String("msg_id", msgID))
	}
	d.bus.Emit(bus.KindMessageStatusChanged, msgID)
	return Result{OK: true, MessageID: msgID}, nil
}

// classifyFailure maps a provider error to the taxonomy, folding a
// deadline hit into network_error so a hung send resolves instead of
// hanging the operator indefinitely.
func (d *Dispatcher) classifyFailure(ctx context.Context, err error) errclass.Details {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errclass.Classify("request timed out")
	}
	return errclass.Classify(err)
}
