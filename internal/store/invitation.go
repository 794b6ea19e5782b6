package store

import (
	"database/sql"
	"time"
)

// InsertInvitation records an operator being invited into a conversation.
func (db *DB) InsertInvitation(inv *Invitation) error {
	if inv.InvitedAt == 0 {
		inv.InvitedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO invitations (id, conversation_id, operator_id, invited_by, priority, invited_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.ConversationID, inv.OperatorID, inv.InvitedBy, inv.Priority, inv.InvitedAt)
	return err
}

// GetInvitation returns an invitation by id, or nil when unknown.
func (db *DB) GetInvitation(id string) (*Invitation, error) {
	var inv Invitation
	err := db.QueryRow(`
		SELECT id, conversation_id, operator_id, invited_by, priority, invited_at, resolved_at
		FROM invitations WHERE id = ?`, id).
		Scan(&inv.ID, &inv.ConversationID, &inv.OperatorID, &inv.InvitedBy, &inv.Priority, &inv.InvitedAt, &inv.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// MarkInvitationResolved stamps resolved_at on an invitation. The record
// stays behind for audit; only the active-participant view changes.
func (db *DB) MarkInvitationResolved(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE invitations SET resolved_at = ? WHERE id = ? AND resolved_at = 0`, now, id)
	return err
}

// ActiveParticipants returns unresolved invitations for a conversation,
// highest priority first.
func (db *DB) ActiveParticipants(conversationID string) ([]Invitation, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, operator_id, invited_by, priority, invited_at, resolved_at
		FROM invitations
		WHERE conversation_id = ? AND resolved_at = 0
		ORDER BY priority DESC, invited_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var invs []Invitation
	for rows.Next() {
		var inv Invitation
		if err := rows.Scan(&inv.ID, &inv.ConversationID, &inv.OperatorID, &inv.InvitedBy, &inv.Priority, &inv.InvitedAt, &inv.ResolvedAt); err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}
