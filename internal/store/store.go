// Package store implements the persistent metadata store (C1): accounts,
// recorder subscriptions, archives, clip/imported videos, danmu, and
// tasks, all in one SQLite database. Connection handling follows the
// same pattern as petervdpas/goop2's internal/storage.DB — WAL journal
// mode plus a busy timeout so concurrent readers never collide with the
// single writer goroutine set — generalized here from goop2's dynamic
// user-table registry to a fixed schema, since this store's shape is
// known up front.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"bsr/internal/apperr"
	"bsr/internal/logger"
)

// Store is the sole writer of the application database. The underlying
// *sql.DB pool is capped at one open connection, so every read and write
// is serialized through it; reads do not run in parallel with each other
// or with a write.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	platform   TEXT NOT NULL,
	uid        TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	avatar     TEXT NOT NULL DEFAULT '',
	cookies    TEXT NOT NULL DEFAULT '',
	csrf       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (platform, uid)
);

CREATE TABLE IF NOT EXISTS recorders (
	platform   TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	extra      TEXT NOT NULL DEFAULT '',
	auto_start INTEGER NOT NULL DEFAULT 0,
	enabled    INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (platform, room_id)
);

CREATE TABLE IF NOT EXISTS records (
	platform   TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	live_id    INTEGER NOT NULL,
	parent_id  INTEGER NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	cover      TEXT NOT NULL DEFAULT '',
	length     REAL NOT NULL DEFAULT 0,
	size       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (platform, room_id, live_id)
);
CREATE INDEX IF NOT EXISTS idx_records_parent ON records(platform, room_id, parent_id);

CREATE TABLE IF NOT EXISTS videos (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	platform   TEXT NOT NULL,
	room_id    TEXT NOT NULL DEFAULT '',
	file       TEXT NOT NULL DEFAULT '',
	cover      TEXT NOT NULL DEFAULT '',
	duration   REAL NOT NULL DEFAULT 0,
	size       INTEGER NOT NULL DEFAULT 0,
	bvid       TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	desc       TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '',
	area       INTEGER NOT NULL DEFAULT 0,
	note       TEXT NOT NULL DEFAULT '',
	subtitle   TEXT NOT NULL DEFAULT '',
	status     INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS danmu (
	platform TEXT NOT NULL,
	room_id  TEXT NOT NULL,
	live_id  INTEGER NOT NULL,
	ts       INTEGER NOT NULL,
	content  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_danmu_archive ON danmu(platform, room_id, live_id, ts);

CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	event      TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// Open opens (creating if absent) the SQLite database at path and applies
// the schema migration.
func Open(path string, log logger.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.New(apperr.Store, "store.Open", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.New(apperr.Store, "store.Open", err)
	}
	db.SetMaxOpenConns(1) // single writer; modernc's sqlite has no native WAL concurrent-writer story

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, apperr.New(apperr.Store, "store.Open", fmt.Errorf("configure database: %w", err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.New(apperr.Store, "store.Open", fmt.Errorf("migrate schema: %w", err))
	}

	return &Store{db: db, logger: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic re-raised after rollback).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.New(apperr.Store, "store.withTx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.New(apperr.Store, "store.withTx", err)
	}
	return nil
}
