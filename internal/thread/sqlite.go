package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore stores threads in SQLite. Turn history is serialized as JSON;
// the single-row upsert gives the same whole-snapshot replace semantics as
// the file store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open thread database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		turns TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create thread schema: %w", err)
	}
	return nil
}

// Save upserts the full thread.
func (s *SQLiteStore) Save(ctx context.Context, t *Thread) error {
	turns, err := json.Marshal(t.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, turns, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET turns = excluded.turns, updated_at = excluded.updated_at`,
		t.ID, string(turns), t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save thread %s: %w", t.ID, err)
	}
	return nil
}

// Load reads a thread by id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*Thread, error) {
	var turns string
	var created, updated time.Time
	row := s.db.QueryRowContext(ctx,
		`SELECT turns, created_at, updated_at FROM threads WHERE id = ?`, id)
	if err := row.Scan(&turns, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load thread %s: %w", id, err)
	}
	t := &Thread{ID: id, CreatedAt: created, UpdatedAt: updated}
	if err := json.Unmarshal([]byte(turns), &t.Turns); err != nil {
		return nil, fmt.Errorf("decode turns for %s: %w", id, err)
	}
	return t, nil
}
