package store

import "fmt"

// AppendJournal writes entries in one transaction and returns the sequence
// number of the last one.
func (db *DB) AppendJournal(entries []JournalEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO events (kind, session_id, chat_id, payload, ts) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	var last int64
	for _, e := range entries {
		res, err := stmt.Exec(e.Kind, e.SessionID, e.ChatID, e.Payload, e.Timestamp)
		if err != nil {
			return 0, fmt.Errorf("insert event %s: %w", e.Kind, err)
		}
		if last, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit journal: %w", err)
	}
	return last, nil
}

// JournalSince returns up to limit entries with a sequence number above
// after, oldest first. A non-empty chatID restricts them to one chat.
func (db *DB) JournalSince(after int64, chatID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT seq, kind, session_id, chat_id, payload, ts FROM events WHERE seq > ?`
	args := []any{after}
	if chatID != "" {
		q += " AND chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY seq ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.Seq, &e.Kind, &e.SessionID, &e.ChatID, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneJournal deletes entries older than beforeMs and reports how many
// went.
func (db *DB) PruneJournal(beforeMs int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM events WHERE ts < ?`, beforeMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
