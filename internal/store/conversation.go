package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
// LastInboundAt only moves forward, so replaying old events cannot shrink
// the messaging window.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, contact, name, last_inbound_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			contact = excluded.contact,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			last_inbound_at = MAX(conversations.last_inbound_at, excluded.last_inbound_at),
			updated_at = excluded.updated_at`,
		c.ID, c.Contact, c.Name, c.LastInboundAt, now)
	return err
}

// GetConversation returns a conversation by id, or nil when unknown.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, contact, name, last_inbound_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Contact, &c.Name, &c.LastInboundAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchLastInbound advances a conversation's last inbound timestamp.
func (db *DB) TouchLastInbound(id string, ts int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations
		SET last_inbound_at = MAX(last_inbound_at, ?), updated_at = ?
		WHERE id = ?`, ts, now, id)
	return err
}

// ConversationCount returns the number of known conversations.
func (db *DB) ConversationCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&n)
	return n, err
}
