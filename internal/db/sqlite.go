// Package db implements the persistence layer for Yume: a SQLite-backed
// store for users, per-mode stats, scores, channels, friends, beatmaps
// and replay blobs.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("db: not found")

// Database wraps the pooled SQLite handle. Connections are acquired per
// call from the pool and released when the call returns.
type Database struct {
	db   *sql.DB
	path string
}

// NewDatabase opens or creates a SQLite database at the given path and
// applies the schema.
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// SQLite serializes writers; one connection avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	d := &Database{db: db, path: dbPath}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("database opened")
	return d, nil
}

// Close closes the database connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Transaction executes fn within a database transaction, rolling back on
// error.
func (d *Database) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Database) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			safe_username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT 'XX',
			privileges INTEGER NOT NULL DEFAULT 3,
			join_date INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS stats (
			user_id INTEGER NOT NULL,
			variant INTEGER NOT NULL,
			mode INTEGER NOT NULL,
			ranked_score INTEGER NOT NULL DEFAULT 0,
			total_score INTEGER NOT NULL DEFAULT 0,
			accuracy REAL NOT NULL DEFAULT 0,
			play_count INTEGER NOT NULL DEFAULT 0,
			performance INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, variant, mode),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS scores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			checksum TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			score INTEGER NOT NULL,
			max_combo INTEGER NOT NULL,
			count_300 INTEGER NOT NULL,
			count_100 INTEGER NOT NULL,
			count_50 INTEGER NOT NULL,
			count_geki INTEGER NOT NULL,
			count_katu INTEGER NOT NULL,
			count_miss INTEGER NOT NULL,
			perfect INTEGER NOT NULL,
			mods INTEGER NOT NULL,
			mode INTEGER NOT NULL,
			variant INTEGER NOT NULL,
			accuracy REAL NOT NULL,
			performance REAL NOT NULL,
			completed INTEGER NOT NULL,
			replay_checksum TEXT NOT NULL DEFAULT '',
			submitted_at INTEGER NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS channels (
			name TEXT PRIMARY KEY,
			topic TEXT NOT NULL DEFAULT '',
			public INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS friends (
			user_id INTEGER NOT NULL,
			friend_id INTEGER NOT NULL,
			PRIMARY KEY (user_id, friend_id)
		);

		CREATE TABLE IF NOT EXISTS beatmaps (
			checksum TEXT PRIMARY KEY,
			id INTEGER NOT NULL,
			set_id INTEGER NOT NULL,
			status INTEGER NOT NULL,
			artist TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT '',
			creator TEXT NOT NULL DEFAULT '',
			bpm REAL NOT NULL DEFAULT 0,
			cs REAL NOT NULL DEFAULT 0,
			od REAL NOT NULL DEFAULT 0,
			ar REAL NOT NULL DEFAULT 0,
			hp REAL NOT NULL DEFAULT 0,
			stars REAL NOT NULL DEFAULT 0,
			frozen INTEGER NOT NULL DEFAULT 0,
			play_count INTEGER NOT NULL DEFAULT 0,
			pass_count INTEGER NOT NULL DEFAULT 0,
			online_offset INTEGER NOT NULL DEFAULT 0,
			rating INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS replays (
			checksum TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE INDEX IF NOT EXISTS idx_scores_board ON scores(checksum, mode, variant, completed);
		CREATE INDEX IF NOT EXISTS idx_scores_user ON scores(user_id, mode, variant, completed);
		CREATE INDEX IF NOT EXISTS idx_stats_perf ON stats(variant, mode, performance);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("database schema migrated")
	return nil
}
