package store

import (
	"database/sql"
	"time"
)

const messageColumns = `id, msg_id, chat_id, contact, direction, mime_type, content, status, local_ts, sent_ts`

// RecordMessage inserts m unless a message with the same MsgID already
// exists. It reports whether the row was inserted, so concurrent receivers of
// the same message can agree on a single delivery.
func (db *DB) RecordMessage(m *Message) (bool, error) {
	if m.LocalTimestamp == 0 {
		m.LocalTimestamp = time.Now().UnixMilli()
	}
	res, err := db.Exec(`
		INSERT INTO messages (msg_id, chat_id, contact, direction, mime_type, content, status, local_ts, sent_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO NOTHING`,
		m.MsgID, m.ChatID, m.Contact, m.Direction, m.MimeType, m.Content, m.Status, m.LocalTimestamp, m.SentTimestamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if id, err := res.LastInsertId(); err == nil {
			m.ID = id
		}
	}
	return n == 1, nil
}

// IsMessagePersisted reports whether msgID has been recorded.
func (db *DB) IsMessagePersisted(msgID string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM messages WHERE msg_id = ?`, msgID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateMessageStatus sets the status of a recorded message. Unknown IDs are
// ignored.
func (db *DB) UpdateMessageStatus(msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id = ?`, status, msgID)
	return err
}

// GetMessage returns a message by ID, or nil when it is not recorded.
func (db *DB) GetMessage(msgID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE msg_id = ?`, msgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages for a chat using keyset pagination by local
// timestamp, newest first.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE chat_id = ? AND local_ts < ?
		ORDER BY local_ts DESC, id DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (*Message, error) {
	var m Message
	if err := s.Scan(&m.ID, &m.MsgID, &m.ChatID, &m.Contact, &m.Direction, &m.MimeType,
		&m.Content, &m.Status, &m.LocalTimestamp, &m.SentTimestamp); err != nil {
		return nil, err
	}
	return &m, nil
}
