// Package db is the SQLite persistence layer. All writes that belong to
// one observable transition happen inside a single transaction.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var pragmas = []string{
	"PRAGMA foreign_keys = ON;",
	"PRAGMA busy_timeout = 2000;",
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id   INTEGER PRIMARY KEY,
		name TEXT    NOT NULL UNIQUE
	);`,
	// id derives from the rowid so that job ids form a dense sequence
	// starting at 0 even though SQLite rowids start at 1.
	`CREATE TABLE IF NOT EXISTS jobs (
		pk           INTEGER PRIMARY KEY,
		id           INTEGER GENERATED ALWAYS AS (pk - 1) STORED UNIQUE,
		created_time TEXT    NOT NULL,
		updated_time TEXT    NOT NULL,
		user_id      INTEGER NOT NULL,
		contest_id   INTEGER NOT NULL,
		problem_id   INTEGER NOT NULL,
		source_code  TEXT    NOT NULL,
		language     TEXT    NOT NULL,
		state        TEXT    NOT NULL,
		result       TEXT    NOT NULL,
		score        REAL    NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users (id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_time ON jobs(created_time);`,
	`CREATE TABLE IF NOT EXISTS job_case (
		job_id       INTEGER NOT NULL,
		case_index   INTEGER NOT NULL,
		result       TEXT    NOT NULL,
		time_us      INTEGER NOT NULL,
		memory_bytes INTEGER NOT NULL,
		info         TEXT    NOT NULL DEFAULT '',
		PRIMARY KEY (job_id, case_index),
		FOREIGN KEY (job_id) REFERENCES jobs (id)
	);`,
	`CREATE TABLE IF NOT EXISTS contests (
		id               INTEGER PRIMARY KEY,
		name             TEXT    NOT NULL,
		from_time        TEXT    NOT NULL,
		to_time          TEXT    NOT NULL,
		submission_limit INTEGER NOT NULL,
		problem_ids      TEXT    NOT NULL,
		user_ids         TEXT    NOT NULL
	);`,
	`INSERT OR IGNORE INTO users (id, name) VALUES (0, 'root');`,
}

type DB struct {
	conn *sqlx.DB
}

// Open connects to the SQLite database at path, creating it if needed.
// With flush set, the existing database files are removed first.
func Open(ctx context.Context, path string, flush bool) (*DB, error) {
	if flush {
		Remove(ctx, path)
	}

	conn, err := sqlx.ConnectContext(ctx, "sqlite3", "file:"+path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("couldn't open database: %w", err)
	}
	// The sqlite driver serializes writers anyway; a single connection
	// avoids SQLITE_BUSY churn between the workers and the API.
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("couldn't apply pragma: %w", err)
		}
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	for _, s := range schema {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			tx.Rollback()
			conn.Close()
			return nil, fmt.Errorf("couldn't initialize schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		conn.Close()
		return nil, err
	}

	slog.InfoContext(ctx, "Initialized database", slog.String("path", path))
	return &DB{conn: conn}, nil
}

// Remove deletes the database files, including the WAL sidecars.
func Remove(ctx context.Context, path string) {
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			slog.WarnContext(ctx, "Couldn't remove database", slog.Any("err", err))
		}
		return
	}
	slog.InfoContext(ctx, "Removed database", slog.String("path", path))
}

func (d *DB) Close() error {
	return d.conn.Close()
}
