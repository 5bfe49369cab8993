package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/esnunes/repeater/internal/paths"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id       INTEGER REFERENCES nodes(id) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    template        TEXT NOT NULL DEFAULT '',
    flags           INTEGER NOT NULL DEFAULT 0,
    sort            INTEGER NOT NULL DEFAULT 0,
    created_user_id INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE (parent_id, name)
);

CREATE TABLE IF NOT EXISTS node_values (
    node_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    name    TEXT NOT NULL,
    value   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (node_id, name)
);

CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id, sort);

INSERT OR IGNORE INTO nodes (id, parent_id, name, template, flags) VALUES (1, NULL, 'home', 'home', 0);
INSERT OR IGNORE INTO nodes (id, parent_id, name, template, flags) VALUES (2, 1, 'system', 'system', 10);
INSERT OR IGNORE INTO nodes (id, parent_id, name, template, flags) VALUES (3, 2, 'repeaters', 'system', 10);
`

// ErrCodecVersion is returned by Open when the database was written with a
// different repeater naming convention than the running binary understands.
var ErrCodecVersion = errors.New("repeater codec version mismatch")

func DBPath() (string, error) {
	dir, err := paths.DataDir()
	if err != nil {
		return "", fmt.Errorf("getting data directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return filepath.Join(dir, "repeater.db"), nil
}

// Open opens the database at dsn, applies the schema and pins the codec
// version on first use.
func Open(dsn string, codecVersion int) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}
	if err := pinCodecVersion(context.Background(), db, codecVersion); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func pinCodecVersion(ctx context.Context, db *sql.DB, want int) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('codec_version', ?)`, strconv.Itoa(want))
	if err != nil {
		return fmt.Errorf("writing codec version: %w", err)
	}
	var got string
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'codec_version'`).Scan(&got); err != nil {
		return fmt.Errorf("reading codec version: %w", err)
	}
	if got != strconv.Itoa(want) {
		return fmt.Errorf("%w: database has %s, binary expects %d", ErrCodecVersion, got, want)
	}
	return nil
}

// Lock takes an exclusive, non-blocking lock next to the database file so
// two servers never share one data directory.
func Lock(dbPath string) (*flock.Flock, error) {
	fl := flock.New(dbPath + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking database: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("database %s is in use by another process", dbPath)
	}
	return fl, nil
}

// TxnRollback rolls back tx unless it was already committed.
func TxnRollback(tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
