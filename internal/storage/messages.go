package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Anmol1085/social-clone/internal/proto"
)

// Conversation is a durable two-member thread. Members are stored in
// canonical order so (a,b) and (b,a) resolve to the same row.
type Conversation struct {
	ID        string `json:"id"`
	MemberA   string `json:"memberA"`
	MemberB   string `json:"memberB"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Message is the persisted form of a chat message. Text and IV hold
// ciphertext material and are stored exactly as received.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Text           string `json:"text"`
	Media          string `json:"media"`
	Type           string `json:"type"`
	IV             string `json:"iv"`
	CreatedAt      int64  `json:"createdAt"`
}

func canonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// EnsureConversation returns the conversation for a member pair, creating
// it on first use. Idempotent for either member order.
func (d *DB) EnsureConversation(userA, userB string) (Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return Conversation{}, errors.New("conversation needs two distinct members")
	}
	a, b := canonicalPair(userA, userB)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := proto.NowMillis()
	_, err := d.db.Exec(`
		INSERT INTO conversations (id, member_a, member_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(member_a, member_b) DO NOTHING`,
		uuid.NewString(), a, b, now, now,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("ensure conversation: %w", err)
	}

	var c Conversation
	err = d.db.QueryRow(`
		SELECT id, member_a, member_b, created_at, updated_at
		FROM conversations WHERE member_a = ? AND member_b = ?`, a, b).
		Scan(&c.ID, &c.MemberA, &c.MemberB, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the user's conversations, most recent first.
func (d *DB) ListConversations(userID string) ([]Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, member_a, member_b, created_at, updated_at
		FROM conversations
		WHERE member_a = ? OR member_b = ?
		ORDER BY updated_at DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.MemberA, &c.MemberB, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveMessage persists a message and bumps the conversation timestamp.
// The ID and CreatedAt fields are assigned here; an empty Type falls back
// to "image" when media is attached, "text" otherwise.
func (d *DB) SaveMessage(m Message) (Message, error) {
	if m.ConversationID == "" || m.SenderID == "" {
		return Message{}, errors.New("message needs conversation and sender")
	}
	if m.Type == "" {
		if m.Media != "" {
			m.Type = "image"
		} else {
			m.Type = "text"
		}
	}
	m.ID = uuid.NewString()
	m.CreatedAt = proto.NowMillis()

	d.mu.Lock()
	defer d.mu.Unlock()

	var exists string
	err := d.db.QueryRow(`SELECT id FROM conversations WHERE id = ?`, m.ConversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, fmt.Errorf("unknown conversation %s", m.ConversationID)
	} else if err != nil {
		return Message{}, err
	}

	if _, err := d.db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, text, media, type, iv, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.Media, m.Type, m.IV, m.CreatedAt,
	); err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}

	if _, err := d.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		m.CreatedAt, m.ConversationID); err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	return m, nil
}

// Messages returns a conversation's history, oldest first.
func (d *DB) Messages(conversationID string) ([]Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, conversation_id, sender_id, text, media, type, iv, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.Media, &m.Type, &m.IV, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
