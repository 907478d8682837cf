package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps all domains in one SQLite table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates it.
func NewSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	b := &SQLiteBackend{db: db}
	if err := b.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return b, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (domain, key)
);
`

// Migrate creates the cache table.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Load returns every entry of the domain.
func (b *SQLiteBackend) Load(ctx context.Context, d Domain) (map[string]json.RawMessage, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM cache_entries WHERE domain = ?`, string(d))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s", d)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", d)
		}
		out[key] = json.RawMessage(value)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s", d)
}

// Insert adds the entry unless the key already exists.
func (b *SQLiteBackend) Insert(ctx context.Context, d Domain, key string, value json.RawMessage) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO cache_entries (domain, key, value) VALUES (?, ?, ?) ON CONFLICT (domain, key) DO NOTHING`,
		string(d), key, string(value),
	)
	return eris.Wrapf(err, "sqlite: insert %s %s", d, key)
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
