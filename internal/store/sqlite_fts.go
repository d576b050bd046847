package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

// SQLiteFTSIndex is a LexicalIndex backed by SQLite FTS5. Content is
// pre-tokenized with TokenizeCode. Queries accept bare words (all must
// match), "quoted phrases", AND/OR/NOT and parentheses.
type SQLiteFTSIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	stop   map[string]struct{}
	closed bool
}

// NewSQLiteFTSIndex opens or creates the index database. An empty path
// creates an in-memory index.
func NewSQLiteFTSIndex(path string) (*SQLiteFTSIndex, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteFTSIndex{db: db, path: path, stop: StopWordSet(DefaultStopWords)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init fts schema: %w", err)
	}
	return s, nil
}

// openSQLite opens a single-connection WAL database at path.
func openSQLite(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and :memory: databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return db, nil
}

func (s *SQLiteFTSIndex) initSchema() error {
	_, err := s.db.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS lexical_fts USING fts5(
		item_id UNINDEXED,
		path UNINDEXED,
		language UNINDEXED,
		kind UNINDEXED,
		title,
		content,
		tokenize = 'unicode61'
	);`)
	return err
}

func (s *SQLiteFTSIndex) Index(ctx context.Context, items []*Item) error {
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

	del, err := tx.PrepareContext(ctx, `DELETE FROM lexical_fts WHERE item_id = ?`)
	if err != nil {
		return err
	}
	defer del.Close()
	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO lexical_fts(item_id, path, language, kind, title, content) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, it := range items {
		if _, err := del.ExecContext(ctx, it.ID); err != nil {
			return fmt.Errorf("replace %s: %w", it.Path, err)
		}
		_, err := ins.ExecContext(ctx, it.ID, it.Path,
			strings.ToLower(it.Language), strings.ToLower(string(it.Kind)),
			s.prepare(it.Title), s.prepare(it.Content))
		if err != nil {
			return fmt.Errorf("index %s: %w", it.Path, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteFTSIndex) prepare(text string) string {
	return strings.Join(RemoveStopWords(TokenizeCode(text), s.stop), " ")
}

func (s *SQLiteFTSIndex) Search(ctx context.Context, text string, filters map[string]string, limit int) ([]*LexicalMatch, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	expr, terms, err := s.matchExpr(text)
	if err != nil {
		return nil, err
	}
	if expr == "" || limit <= 0 {
		return []*LexicalMatch{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT item_id, bm25(lexical_fts) AS score FROM lexical_fts WHERE lexical_fts MATCH ?`)
	args := []any{expr}
	for _, k := range []string{FilterLanguage, FilterKind, FilterPathPrefix} {
		v, ok := filters[k]
		if !ok {
			continue
		}
		if k == FilterPathPrefix {
			sb.WriteString(` AND path LIKE ? ESCAPE '\'`)
			args = append(args, escapeLike(v)+"%")
			continue
		}
		sb.WriteString(" AND " + k + " = ?")
		args = append(args, strings.ToLower(v))
	}
	sb.WriteString(` ORDER BY score LIMIT ?`)
	args = append(args, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, apperrors.Unavailable("lexical index is closed", ErrClosed)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isFTSSyntaxError(err) {
			return nil, apperrors.InvalidQuery("cannot parse lexical query", err)
		}
		return nil, apperrors.New(apperrors.ErrCodeSearchFailed, "lexical search failed", err)
	}
	defer rows.Close()

	out := []*LexicalMatch{}
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		// bm25() is negative with lower meaning better.
		out = append(out, &LexicalMatch{ID: id, Score: -score, MatchedTerms: terms})
	}
	if err := rows.Err(); err != nil {
		if isFTSSyntaxError(err) {
			return nil, apperrors.InvalidQuery("cannot parse lexical query", err)
		}
		return nil, err
	}
	return out, nil
}

// matchExpr rewrites a user query into an FTS5 MATCH expression over the
// pre-tokenized columns. It also returns the plain search terms.
func (s *SQLiteFTSIndex) matchExpr(text string) (string, []string, error) {
	var parts, terms []string
	depth := 0
	runes := []rune(text)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i++
		case r == '"':
			end := i + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			if end == len(runes) {
				return "", nil, apperrors.InvalidQuery("unterminated quoted phrase", nil)
			}
			toks := RemoveStopWords(TokenizeCode(string(runes[i+1:end])), s.stop)
			if len(toks) > 0 {
				parts = append(parts, `"`+strings.Join(toks, " ")+`"`)
				terms = append(terms, toks...)
			}
			i = end + 1
		case r == '(':
			depth++
			parts = append(parts, "(")
			i++
		case r == ')':
			depth--
			if depth < 0 {
				return "", nil, apperrors.InvalidQuery("unbalanced parenthesis", nil)
			}
			parts = append(parts, ")")
			i++
		default:
			end := i
			for end < len(runes) && !strings.ContainsRune(" \t\r\n\"()", runes[end]) {
				end++
			}
			word := string(runes[i:end])
			i = end
			if word == "AND" || word == "OR" || word == "NOT" {
				parts = append(parts, word)
				continue
			}
			toks := RemoveStopWords(TokenizeCode(word), s.stop)
			parts = append(parts, toks...)
			terms = append(terms, toks...)
		}
	}
	if depth != 0 {
		return "", nil, apperrors.InvalidQuery("unbalanced parenthesis", nil)
	}
	if len(terms) == 0 {
		return "", nil, nil
	}
	return strings.Join(parts, " "), terms, nil
}

func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") || strings.Contains(msg, "syntax error near")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *SQLiteFTSIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	q := fmt.Sprintf(`DELETE FROM lexical_fts WHERE item_id IN (%s)`, placeholders(len(ids)))
	_, err := s.db.ExecContext(ctx, q, stringArgs(ids)...)
	return err
}

func (s *SQLiteFTSIndex) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM lexical_fts`).Scan(&n)
	return n, err
}

func (s *SQLiteFTSIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

var _ LexicalIndex = (*SQLiteFTSIndex)(nil)
