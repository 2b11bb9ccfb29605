// Package store implements the on-disk persistence layer: the
// messages.db and contacts.db SQLite databases and the DHT value cache
// directory that make up a dna identity's file system layout (spec
// section 6). It knows nothing about message or contact semantics; the
// message, contact, and group packages build their domain models on top
// of the row-level operations exposed here.
package store

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/dnanet/dna/dnaerr"
)

// sqliteMaxConns bounds the connection pool the way a single-writer,
// multi-reader SQLite database should be used: one writer serialized by
// SQLite itself, a small number of concurrent readers.
const sqliteMaxConns = 4

// Store owns the two SQLite databases for one identity's data directory.
type Store struct {
	messages *sql.DB
	contacts *sql.DB
	cacheDir string
}

// Open opens (creating if necessary) <dataDir>/messages.db and
// <dataDir>/contacts.db, applying migrations, and ensures
// <dataDir>/dht_cache exists for the DHT value cache.
func Open(dataDir string) (*Store, error) {
	messages, err := openSQLite(filepath.Join(dataDir, "messages.db"))
	if err != nil {
		return nil, err
	}
	contacts, err := openSQLite(filepath.Join(dataDir, "contacts.db"))
	if err != nil {
		messages.Close()
		return nil, err
	}

	s := &Store{messages: messages, contacts: contacts, cacheDir: filepath.Join(dataDir, "dht_cache")}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}
	if err := os.MkdirAll(s.cacheDir, 0o700); err != nil {
		s.Close()
		return nil, dnaerr.Storage("store.Open", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dnaerr.Storage("store.openSQLite", err)
	}
	if err := db.Ping(); err != nil {
		return nil, dnaerr.Storage("store.openSQLite", err)
	}

	db.SetMaxOpenConns(sqliteMaxConns)
	db.SetMaxIdleConns(sqliteMaxConns)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, dnaerr.Storage("store.openSQLite", err)
		}
	}
	return db, nil
}

var messageMigrations = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id             TEXT PRIMARY KEY,
		store_order    INTEGER NOT NULL,
		contact_fp     TEXT NOT NULL,
		group_id       TEXT NOT NULL DEFAULT '',
		direction      TEXT NOT NULL,
		status         TEXT NOT NULL,
		body           BLOB NOT NULL,
		sig_hash       TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_contact_order ON messages(contact_fp, store_order)`,
	`CREATE INDEX IF NOT EXISTS messages_group_order ON messages(group_id, store_order)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS messages_sig_hash ON messages(sig_hash) WHERE sig_hash != ''`,
	`CREATE TABLE IF NOT EXISTS message_seq (
		name  TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
}

var contactMigrations = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		fingerprint       TEXT PRIMARY KEY,
		name              TEXT NOT NULL DEFAULT '',
		connection_status TEXT NOT NULL,
		signing_pub       BLOB NOT NULL,
		encryption_pub    BLOB NOT NULL,
		added_at          INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		group_id    TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		role        TEXT NOT NULL,
		gsk_gen     INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	)`,
}

func (s *Store) migrate() error {
	logger := logrus.WithFields(logrus.Fields{"function": "Store.migrate", "package": "store"})
	for _, stmt := range messageMigrations {
		if _, err := s.messages.Exec(stmt); err != nil {
			return dnaerr.Storage("Store.migrate", err)
		}
	}
	for _, stmt := range contactMigrations {
		if _, err := s.contacts.Exec(stmt); err != nil {
			return dnaerr.Storage("Store.migrate", err)
		}
	}
	logger.Debug("migrations applied")
	return nil
}

// CacheDir returns the directory the DHT value cache should use.
func (s *Store) CacheDir() string { return s.cacheDir }

// Messages returns the raw handle for packages that need statements beyond
// what Store exposes directly (kept private in practice; exported only for
// the message package's same-module use).
func (s *Store) Messages() *sql.DB { return s.messages }

// Contacts returns the raw handle for the contact and group packages.
func (s *Store) Contacts() *sql.DB { return s.contacts }

// Close closes both databases.
func (s *Store) Close() error {
	err1 := s.messages.Close()
	err2 := s.contacts.Close()
	if err1 != nil {
		return dnaerr.Storage("Store.Close", err1)
	}
	if err2 != nil {
		return dnaerr.Storage("Store.Close", err2)
	}
	return nil
}

// NextStoreOrder atomically allocates the next monotonic store-order value
// used to give every message a stable, gap-tolerant delivery/display order
// independent of wall-clock timestamps (spec section 4's StoreOrder field).
func (s *Store) NextStoreOrder() (uint64, error) {
	tx, err := s.messages.Begin()
	if err != nil {
		return 0, dnaerr.Storage("Store.NextStoreOrder", err)
	}
	defer tx.Rollback()

	var current uint64
	err = tx.QueryRow(`SELECT value FROM message_seq WHERE name = 'store_order'`).Scan(&current)
	if err == sql.ErrNoRows {
		current = 0
		if _, err := tx.Exec(`INSERT INTO message_seq (name, value) VALUES ('store_order', 0)`); err != nil {
			return 0, dnaerr.Storage("Store.NextStoreOrder", err)
		}
	} else if err != nil {
		return 0, dnaerr.Storage("Store.NextStoreOrder", err)
	}

	next := current + 1
	if _, err := tx.Exec(`UPDATE message_seq SET value = ? WHERE name = 'store_order'`, next); err != nil {
		return 0, dnaerr.Storage("Store.NextStoreOrder", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, dnaerr.Storage("Store.NextStoreOrder", err)
	}
	return next, nil
}
