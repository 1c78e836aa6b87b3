package swap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLStore keeps blobs in a SQL table. It is written against SQLite but
// only uses portable statements.
type SQLStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLStore opens (or creates) a SQLite swap database at path.
// An empty path selects an in-memory database.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("swap: open database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)
	s, err := NewSQLStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLStore uses db, creating the swap table if needed. Close does not
// close a db supplied here.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tile_swap (
		handle INTEGER PRIMARY KEY,
		blob   BLOB NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("swap: create table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Put(ctx context.Context, key uint64, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tile_swap (handle, blob) VALUES (?, ?)`, int64(key), blob) //nolint:gosec // handles stay below 2^63
	if err != nil {
		return fmt.Errorf("swap: store blob %d: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key uint64) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM tile_swap WHERE handle = ?`, int64(key)).Scan(&blob) //nolint:gosec // handles stay below 2^63
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swap: load blob %d: %w", key, err)
	}
	return blob, nil
}

func (s *SQLStore) Delete(ctx context.Context, key uint64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tile_swap WHERE handle = ?`, int64(key)) //nolint:gosec // handles stay below 2^63
	if err != nil {
		return fmt.Errorf("swap: delete blob %d: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
