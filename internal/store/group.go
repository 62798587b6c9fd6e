package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertGroupChat inserts or updates a group chat and replaces its stored
// participants with g.Participants when that map is non-nil.
func (db *DB) UpsertGroupChat(g *GroupChat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO group_chats (chat_id, rejoin_uri, subject, state, timestamp, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			rejoin_uri = CASE WHEN excluded.rejoin_uri != '' THEN excluded.rejoin_uri ELSE group_chats.rejoin_uri END,
			subject = CASE WHEN excluded.subject != '' THEN excluded.subject ELSE group_chats.subject END,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		g.ChatID, g.RejoinURI, g.Subject, g.State, g.Timestamp, now); err != nil {
		return fmt.Errorf("upsert group chat %q: %w", g.ChatID, err)
	}

	if g.Participants != nil {
		if _, err := tx.Exec(`DELETE FROM participants WHERE chat_id = ?`, g.ChatID); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		for c, status := range g.Participants {
			if _, err := tx.Exec(`
				INSERT INTO participants (chat_id, contact, status, updated_at) VALUES (?, ?, ?, ?)`,
				g.ChatID, c, status, now); err != nil {
				return fmt.Errorf("insert participant %q: %w", c, err)
			}
		}
	}
	return tx.Commit()
}

// GroupChat returns the stored group chat with its participants, or nil.
func (db *DB) GroupChat(chatID string) (*GroupChat, error) {
	var g GroupChat
	err := db.QueryRow(`
		SELECT chat_id, rejoin_uri, subject, state, timestamp
		FROM group_chats WHERE chat_id = ?`, chatID).
		Scan(&g.ChatID, &g.RejoinURI, &g.Subject, &g.State, &g.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.Participants, err = db.Participants(chatID)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SetGroupChatState updates the state column only.
func (db *DB) SetGroupChatState(chatID, state string) error {
	_, err := db.Exec(`UPDATE group_chats SET state = ?, updated_at = ? WHERE chat_id = ?`,
		state, time.Now().UnixMilli(), chatID)
	return err
}

// SetGroupChatRejoinURI records the conference URI returned by the focus.
func (db *DB) SetGroupChatRejoinURI(chatID, uri string) error {
	_, err := db.Exec(`UPDATE group_chats SET rejoin_uri = ?, updated_at = ? WHERE chat_id = ?`,
		uri, time.Now().UnixMilli(), chatID)
	return err
}

// Participants returns contact -> status for a chat. A chat with no stored
// participants yields an empty, non-nil map.
func (db *DB) Participants(chatID string) (map[string]string, error) {
	rows, err := db.Query(`SELECT contact, status FROM participants WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var c, s string
		if err := rows.Scan(&c, &s); err != nil {
			return nil, err
		}
		out[c] = s
	}
	return out, rows.Err()
}

// SetParticipant inserts or updates one participant's status.
func (db *DB) SetParticipant(chatID, contact, status string) error {
	_, err := db.Exec(`
		INSERT INTO participants (chat_id, contact, status, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, contact) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		chatID, contact, status, time.Now().UnixMilli())
	return err
}

// ListGroupChats returns all stored group chats without participants, most
// recently updated first.
func (db *DB) ListGroupChats() ([]GroupChat, error) {
	rows, err := db.Query(`
		SELECT chat_id, rejoin_uri, subject, state, timestamp
		FROM group_chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []GroupChat
	for rows.Next() {
		var g GroupChat
		if err := rows.Scan(&g.ChatID, &g.RejoinURI, &g.Subject, &g.State, &g.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
