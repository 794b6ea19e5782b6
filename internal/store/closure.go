package store

import (
	"database/sql"
	"time"
)

// ActiveClosure returns the closure that currently keeps the conversation
// closed, or nil when the conversation is active.
func (db *DB) ActiveClosure(conversationID string) (*Closure, error) {
	var c Closure
	err := db.QueryRow(`
		SELECT id, conversation_id, reason, closed_at, reopened_at
		FROM closures
		WHERE conversation_id = ? AND reopened_at = 0
		ORDER BY closed_at DESC LIMIT 1`, conversationID).
		Scan(&c.ID, &c.ConversationID, &c.Reason, &c.ClosedAt, &c.ReopenedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertClosure appends a closure record.
func (db *DB) InsertClosure(conversationID, reason string) (*Closure, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO closures (conversation_id, reason, closed_at)
		VALUES (?, ?, ?)`, conversationID, reason, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Closure{ID: id, ConversationID: conversationID, Reason: reason, ClosedAt: now}, nil
}

// MarkReopened stamps reopened_at on a closure. Closures are append-only;
// this is the only mutation they ever receive.
func (db *DB) MarkReopened(closureID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE closures SET reopened_at = ? WHERE id = ? AND reopened_at = 0`, now, closureID)
	return err
}

// ListClosures returns the full closure history for a conversation,
// newest first.
func (db *DB) ListClosures(conversationID string) ([]Closure, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, reason, closed_at, reopened_at
		FROM closures
		WHERE conversation_id = ?
		ORDER BY closed_at DESC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var closures []Closure
	for rows.Next() {
		var c Closure
		if err := rows.Scan(&c.ID, &c.ConversationID, &c.Reason, &c.ClosedAt, &c.ReopenedAt); err != nil {
			return nil, err
		}
		closures = append(closures, c)
	}
	return closures, rows.Err()
}
