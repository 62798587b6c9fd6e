package store

// SearchMessages performs a full-text search on message content, optionally
// restricted to one chat.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.msg_id, m.chat_id, m.contact, m.direction, m.mime_type,
		       m.content, m.status, m.local_ts, m.sent_ts,
		       snippet(messages_fts, '<<', '>>', '...', -1, 32)
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY m.local_ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m := &r.Message
		if err := rows.Scan(
			&m.ID, &m.MsgID, &m.ChatID, &m.Contact, &m.Direction, &m.MimeType,
			&m.Content, &m.Status, &m.LocalTimestamp, &m.SentTimestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
