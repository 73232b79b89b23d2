package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a single SQLite table keyed by
// (namespace, key). WAL mode keeps readers from blocking the writer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the value for key, or ErrKeyNotFound.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", namespace, key, ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any existing value.
func (s *SQLiteStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes key. Absent keys are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE namespace = ? AND key = ?`, namespace, key,
	); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// PrefixScan returns all entries whose key starts with prefix, sorted by key.
func (s *SQLiteStore) PrefixScan(ctx context.Context, namespace, prefix string) ([]Entry, error) {
	query := `SELECT key, value FROM kv WHERE namespace = ? AND key >= ?`
	args := []any{namespace, prefix}
	if end := prefixEnd(prefix); end != "" {
		query += ` AND key < ?`
		args = append(args, end)
	}
	query += ` ORDER BY key`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("prefix scan %s/%s: %w", namespace, prefix, err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("prefix scan %s/%s: %w", namespace, prefix, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prefix scan %s/%s: %w", namespace, prefix, err)
	}
	return out, nil
}

// WriteBatch applies all ops in one transaction.
func (s *SQLiteStore) WriteBatch(ctx context.Context, ops []Op) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for _, op := range ops {
		if op.Delete {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM kv WHERE namespace = ? AND key = ?`, op.Namespace, op.Key)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO kv (namespace, key, value) VALUES (?, ?, ?)
				 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`,
				op.Namespace, op.Key, op.Value)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("batch op %s/%s: %w", op.Namespace, op.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
