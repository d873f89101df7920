package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite filename under the relay data directory.
const DefaultDBFileName = "relay.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  message_id TEXT PRIMARY KEY,
  kind       TEXT NOT NULL CHECK(kind IN ('direct','group','urgent','mesh')),
  sender     TEXT NOT NULL,
  target     TEXT NOT NULL DEFAULT '',
  group_name TEXT NOT NULL DEFAULT '',
  content    TEXT NOT NULL,
  snr        INTEGER,
  timestamp  INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_time
ON messages (timestamp DESC, message_id);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_kind_time
ON messages (kind, timestamp DESC);
`,
	`
CREATE TABLE IF NOT EXISTS users (
  identity     TEXT PRIMARY KEY,
  added_at     INTEGER NOT NULL,
  welcome_sent INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS subscriptions (
  identity   TEXT NOT NULL REFERENCES users(identity) ON DELETE CASCADE,
  group_name TEXT NOT NULL,
  PRIMARY KEY (identity, group_name)
);
`,
	`
CREATE TABLE IF NOT EXISTS mutes (
  identity   TEXT NOT NULL REFERENCES users(identity) ON DELETE CASCADE,
  group_name TEXT NOT NULL,
  PRIMARY KEY (identity, group_name)
);
`,
	`
CREATE TABLE IF NOT EXISTS bindings (
  callsign TEXT PRIMARY KEY,
  identity TEXT NOT NULL,
  bound_at INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_bindings_identity
ON bindings (identity);
`,
	`
CREATE TABLE IF NOT EXISTS daily_stats (
  day      TEXT PRIMARY KEY,
  inbound  INTEGER NOT NULL DEFAULT 0,
  outbound INTEGER NOT NULL DEFAULT 0
);
`,
}

// Store is a thin wrapper around a SQLite connection.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) relay.db under the given data directory and runs
// schema migrations.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens SQLite at an explicit path and runs schema migrations.
func OpenPath(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}
