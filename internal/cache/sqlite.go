package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	model      TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	response   TEXT NOT NULL,
	embedding  TEXT NOT NULL,
	cost       REAL NOT NULL,
	latency_ms REAL NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_model ON cache_entries(model);
`

// sqliteBackend persists entries in a local SQLite database, so the semantic
// cache survives restarts without an external service.
type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (and if needed initializes) the database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteBackend(path string) (Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite cache schema: %w", err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT key, model, prompt, response, embedding, cost, latency_ms, created_at, expires_at
		 FROM cache_entries WHERE key = ?`, key)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (b *sqliteBackend) Set(ctx context.Context, entry Entry) error {
	embedding, err := json.Marshal(entry.Embedding)
	if err != nil {
		return err
	}
	var expires int64
	if !entry.ExpiresAt.IsZero() {
		expires = entry.ExpiresAt.Unix()
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, model, prompt, response, embedding, cost, latency_ms, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   model = excluded.model, prompt = excluded.prompt, response = excluded.response,
		   embedding = excluded.embedding, cost = excluded.cost, latency_ms = excluded.latency_ms,
		   created_at = excluded.created_at, expires_at = excluded.expires_at`,
		entry.Key, entry.Model, entry.Prompt, entry.Response, string(embedding),
		entry.Cost, entry.LatencyMs, entry.CreatedAt.Unix(), expires)
	return err
}

func (b *sqliteBackend) Entries(ctx context.Context, model string) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, model, prompt, response, embedding, cost, latency_ms, created_at, expires_at
		 FROM cache_entries WHERE model = ? AND (expires_at = 0 OR expires_at > ?)`,
		model, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

func (b *sqliteBackend) Close() error { return b.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry     Entry
		embedding string
		created   int64
		expires   int64
	)
	err := row.Scan(&entry.Key, &entry.Model, &entry.Prompt, &entry.Response,
		&embedding, &entry.Cost, &entry.LatencyMs, &created, &expires)
	if err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(embedding), &entry.Embedding); err != nil {
		return Entry{}, err
	}
	entry.CreatedAt = time.Unix(created, 0)
	if expires > 0 {
		entry.ExpiresAt = time.Unix(expires, 0)
	}
	return entry, nil
}
