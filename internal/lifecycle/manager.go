// Package lifecycle orchestrates conversation bookkeeping: close/reopen,
// participant invitations, the per-conversation send lock, and fetch
// generation counters. These axes are kept apart from the
// messaging-window and response-status derivations: closing a
// conversation is an operator action, not a messaging-policy fact.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pvallone/chatdesk/internal/bus"
	"github.com/pvallone/chatdesk/internal/store"
	"go.uber.org/zap"
)

// MaxPriority is the top of the invitation priority ordinal.
const MaxPriority = 5

// CloseResult reports the outcome of a close action. Closing an
// already-closed conversation is a benign no-op, not an error.
type CloseResult struct {
	Closed        bool `json:"closed"`
	AlreadyClosed bool `json:"alreadyClosed"`
}

// ReopenResult reports the outcome of a reopen action. Reopening an
// active conversation is a benign no-op.
type ReopenResult struct {
	Reopened      bool `json:"reopened"`
	AlreadyActive bool `json:"alreadyActive"`
}

// ResolveResult reports the outcome of resolving a participation.
type ResolveResult struct {
	Resolved        bool `json:"resolved"`
	AlreadyResolved bool `json:"alreadyResolved"`
}

// Manager owns lifecycle state for all conversations.
type Manager struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	sending map[string]bool
	gen     map[string]uint64
}

// NewManager creates a lifecycle manager.
func NewManager(db *store.DB, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		db:      db,
		bus:     b,
		logger:  logger,
		sending: make(map[string]bool),
		gen:     make(map[string]uint64),
	}
}

// Close marks a conversation closed. Idempotent: a second close observes
// "already closed" and appends nothing.
func (m *Manager) Close(conversationID, reason string) (CloseResult, error) {
	active, err := m.db.ActiveClosure(conversationID)
	if err != nil {
		return CloseResult{}, fmt.Errorf("check active closure: %w", err)
	}
	if active != nil {
		return CloseResult{AlreadyClosed: true}, nil
	}

	if _, err := m.db.InsertClosure(conversationID, reason); err != nil {
		return CloseResult{}, fmt.Errorf("insert closure: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("conversation closed",
			zap.String("conversation_id", conversationID),
			zap.String("reason", reason))
	}
	m.bus.Emit(bus.KindConversationClosed, conversationID)
	return CloseResult{Closed: true}, nil
}

// Reopen stamps the active closure's reopened_at. A conversation with no
// active closure yields a benign no-op result.
func (m *Manager) Reopen(conversationID string) (ReopenResult, error) {
	active, err := m.db.ActiveClosure(conversationID)
	if err != nil {
		return ReopenResult{}, fmt.Errorf("check active closure: %w", err)
	}
	if active == nil {
		return ReopenResult{AlreadyActive: true}, nil
	}

	if err := m.db.MarkReopened(active.ID); err != nil {
		return ReopenResult{}, fmt.Errorf("mark reopened: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("conversation reopened", zap.String("conversation_id", conversationID))
	}
	m.bus.Emit(bus.KindConversationReopened, conversationID)
	return ReopenResult{Reopened: true}, nil
}

// IsClosed reports whether the conversation currently has an active
// closure.
func (m *Manager) IsClosed(conversationID string) (bool, error) {
	active, err := m.db.ActiveClosure(conversationID)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

// Invite adds an operator to the conversation's active participants.
func (m *Manager) Invite(conversationID, operatorID, invitedBy string, priority int) (*store.Invitation, error) {
	if priority < 0 || priority > MaxPriority {
		return nil, fmt.Errorf("priority %d out of range 0-%d", priority, MaxPriority)
	}
	inv := &store.Invitation{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		OperatorID:     operatorID,
		InvitedBy:      invitedBy,
		Priority:       priority,
	}
	if err := m.db.InsertInvitation(inv); err != nil {
		return nil, fmt.Errorf("insert invitation: %w", err)
	}
	m.bus.Emit(bus.KindParticipantInvited, inv.ID)
	return inv, nil
}

// Resolve marks an operator's participation done. The invitation record
// persists; resolving twice is a benign no-op.
func (m *Manager) Resolve(invitationID string) (ResolveResult, error) {
	inv, err := m.db.GetInvitation(invitationID)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("load invitation: %w", err)
	}
	if inv == nil {
		return ResolveResult{}, fmt.Errorf("unknown invitation %s", invitationID)
	}
	if inv.ResolvedAt != 0 {
		return ResolveResult{AlreadyResolved: true}, nil
	}

	if err := m.db.MarkInvitationResolved(invitationID); err != nil {
		return ResolveResult{}, fmt.Errorf("resolve invitation: %w", err)
	}
	m.bus.Emit(bus.KindParticipantResolved, invitationID)
	return ResolveResult{Resolved: true}, nil
}

// TryBeginSend takes the conversation's send lock. At most one outbound
// send may be in flight per conversation; a second attempt while one is
// pending is rejected, not queued.
func (m *Manager) TryBeginSend(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sending[conversationID] {
		return false
	}
	m.sending[conversationID] = true
	return true
}

// EndSend releases the conversation's send lock.
func (m *Manager) EndSend(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sending, conversationID)
}

// NextGeneration advances and returns the conversation's fetch
// generation. A refresh records the generation it started under and
// discards its result if a newer fetch has since begun.
func (m *Manager) NextGeneration(conversationID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen[conversationID]++
	return m.gen[conversationID]
}

// CurrentGeneration returns the latest fetch generation for the
// conversation.
func (m *Manager) CurrentGeneration(conversationID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen[conversationID]
}
