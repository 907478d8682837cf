package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used by PostgresBackend.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresBackend keeps all domains in one table of a shared database.
type PostgresBackend struct {
	pool Pool
}

// NewPostgres connects to connString and migrates the cache table.
func NewPostgres(ctx context.Context, connString string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 2
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	b := &PostgresBackend{pool: pool}
	if err := b.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS cities;

CREATE TABLE IF NOT EXISTS cities.cache_entries (
	domain     TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (domain, key)
);
`

// Migrate creates the schema and cache table.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Load returns every entry of the domain.
func (b *PostgresBackend) Load(ctx context.Context, d Domain) (map[string]json.RawMessage, error) {
	rows, err := b.pool.Query(ctx, `SELECT key, value FROM cities.cache_entries WHERE domain = $1`, string(d))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s", d)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", d)
		}
		out[key] = json.RawMessage(value)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s", d)
}

// Insert adds the entry unless the key already exists.
func (b *PostgresBackend) Insert(ctx context.Context, d Domain, key string, value json.RawMessage) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO cities.cache_entries (domain, key, value) VALUES ($1, $2, $3) ON CONFLICT (domain, key) DO NOTHING`,
		string(d), key, []byte(value),
	)
	return eris.Wrapf(err, "postgres: insert %s %s", d, key)
}

// Close closes the pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
