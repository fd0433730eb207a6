// Package sqlite provides a SQLite-backed cache generation registry.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spdeepak/shellcache/cache"
	"github.com/spdeepak/shellcache/cache/sqlite/migrations"
	"github.com/spdeepak/shellcache/internal/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Registry persists cache generations in SQLite.
type Registry struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite registry and applies embedded migrations.
func Open(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Registry{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (r *Registry) Close() error {
	if r == nil || r.sqlDB == nil {
		return nil
	}
	return r.sqlDB.Close()
}

// Open returns the named generation, creating it when missing.
func (r *Registry) Open(ctx context.Context, name string) (cache.Store, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("generation name is required")
	}
	if _, err := r.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)`,
		name, toMillis(time.Now()),
	); err != nil {
		return nil, fmt.Errorf("create generation %q: %w", name, err)
	}
	return &Store{sqlDB: r.sqlDB, generation: name}, nil
}

// Names lists generations in name order.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	rows, err := r.sqlDB.QueryContext(ctx, `SELECT name FROM generations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return names, nil
}

// Delete removes a generation and its entries in one transaction.
func (r *Registry) Delete(ctx context.Context, name string) (bool, error) {
	if err := r.check(ctx); err != nil {
		return false, err
	}
	tx, err := r.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete generation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE generation = ?`, name); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete entries of %q: %w", name, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE name = ?`, name)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("delete generation %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete generation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete generation %q: %w", name, err)
	}
	return affected > 0, nil
}

func (r *Registry) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// Store is one generation inside a Registry.
type Store struct {
	sqlDB      *sql.DB
	generation string
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var (
		entry    cache.Entry
		headers  string
		storedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT url, status_code, headers, body, stored_at
		   FROM entries
		  WHERE generation = ? AND cache_key = ?`,
		s.generation, key,
	).Scan(&entry.URL, &entry.StatusCode, &headers, &entry.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get entry: %w", err)
	}
	entry.Headers = make(http.Header)
	if err := json.Unmarshal([]byte(headers), &entry.Headers); err != nil {
		return nil, false, fmt.Errorf("decode headers: %w", err)
	}
	if entry.Body == nil {
		entry.Body = []byte{}
	}
	entry.StoredAt = fromMillis(storedAt)
	return &entry, true, nil
}

func (s *Store) Set(ctx context.Context, key string, entry *cache.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("entry is required")
	}
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	body := entry.Body
	if body == nil {
		body = []byte{}
	}
	storedAt := entry.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO entries (generation, cache_key, url, status_code, headers, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (generation, cache_key) DO UPDATE SET
		   url = excluded.url,
		   status_code = excluded.status_code,
		   headers = excluded.headers,
		   body = excluded.body,
		   stored_at = excluded.stored_at`,
		s.generation, key, entry.URL, entry.StatusCode, string(headers), body, toMillis(storedAt),
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM entries WHERE generation = ? AND cache_key = ?`,
		s.generation, key,
	); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT cache_key FROM entries WHERE generation = ? ORDER BY cache_key`,
		s.generation,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
