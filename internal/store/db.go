package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// dsnOptions are the go-sqlite3 connection parameters. Write transactions
// start IMMEDIATE so the journal's batch inserts and the engine's message
// writes queue on the busy timeout instead of failing on lock upgrade.
const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_sync=NORMAL&_txlock=immediate"

// DB is the profile database: messages, group chats and their rosters, the
// outbox and the event journal.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path. The parent
// directory is created 0700 and the file is restricted to the owner.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db: %w", err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path is the database file location.
func (db *DB) Path() string { return db.path }
