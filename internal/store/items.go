package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SQLiteItemStore is an ItemStore on modernc.org/sqlite.
type SQLiteItemStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteItemStore opens or creates the item database. An empty path
// creates an in-memory store.
func NewSQLiteItemStore(path string) (*SQLiteItemStore, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteItemStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init item schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteItemStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS items (
		id         TEXT PRIMARY KEY,
		path       TEXT NOT NULL UNIQUE,
		language   TEXT NOT NULL DEFAULT '',
		kind       TEXT NOT NULL DEFAULT '',
		title      TEXT NOT NULL DEFAULT '',
		content    TEXT NOT NULL DEFAULT '',
		size       INTEGER NOT NULL DEFAULT 0,
		hash       TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_items_language ON items(language);
	CREATE INDEX IF NOT EXISTS idx_items_kind ON items(kind);
	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return err
}

func (s *SQLiteItemStore) SaveItems(ctx context.Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO items (id, path, language, kind, title, content, size, hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path, language = excluded.language, kind = excluded.kind,
			title = excluded.title, content = excluded.content, size = excluded.size,
			hash = excluded.hash, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		_, err := stmt.ExecContext(ctx, it.ID, it.Path, strings.ToLower(it.Language), string(it.Kind),
			it.Title, it.Content, it.Size, it.Hash, it.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("save item %s: %w", it.Path, err)
		}
	}
	return tx.Commit()
}

const itemColumns = `id, path, language, kind, title, content, size, hash, updated_at`

func scanItem(sc interface{ Scan(...any) error }) (*Item, error) {
	var it Item
	var kind string
	var updated int64
	if err := sc.Scan(&it.ID, &it.Path, &it.Language, &kind, &it.Title, &it.Content, &it.Size, &it.Hash, &updated); err != nil {
		return nil, err
	}
	it.Kind = Kind(kind)
	it.UpdatedAt = time.Unix(0, updated)
	return &it, nil
}

func (s *SQLiteItemStore) GetItems(ctx context.Context, ids []string) ([]*Item, error) {
	if len(ids) == 0 {
		return []*Item{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	q := fmt.Sprintf(`SELECT %s FROM items WHERE id IN (%s)`, itemColumns, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, q, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Item, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		byID[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Item, 0, len(byID))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *SQLiteItemStore) ItemsByPath(ctx context.Context) (map[string]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, path, language, kind, title, '', size, hash, updated_at FROM items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*Item)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.Path] = it
	}
	return out, rows.Err()
}

func (s *SQLiteItemStore) FilterIDs(ctx context.Context, ids []string, filters map[string]string) (map[string]bool, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT id FROM items WHERE id IN (%s)`, placeholders(len(ids)))
	args := stringArgs(ids)
	if v, ok := filters[FilterLanguage]; ok {
		sb.WriteString(` AND language = ?`)
		args = append(args, strings.ToLower(v))
	}
	if v, ok := filters[FilterKind]; ok {
		sb.WriteString(` AND kind = ?`)
		args = append(args, strings.ToLower(v))
	}
	if v, ok := filters[FilterPathPrefix]; ok {
		sb.WriteString(` AND path LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(v)+"%")
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("filter items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *SQLiteItemStore) DeleteItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	q := fmt.Sprintf(`DELETE FROM items WHERE id IN (%s)`, placeholders(len(ids)))
	_, err := s.db.ExecContext(ctx, q, stringArgs(ids)...)
	return err
}

func (s *SQLiteItemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n)
	return n, err
}

// GetState returns "" for an unknown key.
func (s *SQLiteItemStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *SQLiteItemStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (s *SQLiteItemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ ItemStore = (*SQLiteItemStore)(nil)
