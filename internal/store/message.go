package store

import (
	"database/sql"
	"time"
)

// InsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id). Re-delivered events update body and status
// without duplicating the row.
func (db *DB) InsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, direction, body, sent_by, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status`,
		m.ConversationID, m.MsgID, m.Direction, m.Body, m.SentBy, m.Status, m.CreatedAt)
	return err
}

// GetMessageByMsgID returns a message by its provider-visible id, or nil
// when unknown. Receipts reference messages this way.
func (db *DB) GetMessageByMsgID(msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, conversation_id, msg_id, direction, body, sent_by, status,
			error_kind, error_message, error_can_retry, error_requires_reconnect, created_at
		FROM messages WHERE msg_id = ?`, msgID).
		Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.Direction, &m.Body, &m.SentBy, &m.Status,
			&m.ErrorKind, &m.ErrorMessage, &m.ErrorCanRetry, &m.ErrorRequiresReconnect, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageStatus sets a message's delivery status. Monotonicity is
// the delivery tracker's job; this is a plain write.
func (db *DB) UpdateMessageStatus(msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, status, msgID)
	return err
}

// MarkMessageFailed sets a message to failed with its classified error.
func (db *DB) MarkMessageFailed(msgID, kind, message string, canRetry, requiresReconnect bool) error {
	_, err := db.Exec(`
		UPDATE messages
		SET status = ?, error_kind = ?, error_message = ?, error_can_retry = ?, error_requires_reconnect = ?
		WHERE msg_id = ?`,
		StatusFailed, kind, message, canRetry, requiresReconnect, msgID)
	return err
}

// ListMessages returns messages for a conversation using keyset
// pagination by timestamp, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, direction, body, sent_by, status,
			error_kind, error_message, error_can_retry, error_requires_reconnect, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// ConversationMessages returns the full ordered history of a
// conversation, oldest first. The response-status classifier consumes
// this.
func (db *DB) ConversationMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, direction, body, sent_by, status,
			error_kind, error_message, error_can_retry, error_requires_reconnect, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MessageCount returns the number of stored messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.Direction, &m.Body, &m.SentBy, &m.Status,
			&m.ErrorKind, &m.ErrorMessage, &m.ErrorCanRetry, &m.ErrorRequiresReconnect, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
