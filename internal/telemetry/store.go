package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// maxZeroResultRows caps the persisted zero-result history.
const maxZeroResultRows = 100

// MetricsStore persists QueryMetrics deltas.
type MetricsStore interface {
	// SaveStrategyCounts adds counts to the per-day strategy totals.
	SaveStrategyCounts(date string, counts map[string]int64) error
	// GetStrategyCounts sums strategy counts over an inclusive date range.
	GetStrategyCounts(from, to string) (map[string]int64, error)
	// UpsertTermCounts adds to term frequencies.
	UpsertTermCounts(terms map[string]int64) error
	// GetTopTerms returns the limit most frequent terms.
	GetTopTerms(limit int) ([]TermCount, error)
	// AddZeroResultQuery records a query that returned nothing.
	AddZeroResultQuery(query string, at time.Time) error
	// GetZeroResultQueries returns recent zero-result queries, newest first.
	GetZeroResultQueries(limit int) ([]string, error)
	// SaveLatencyCounts adds counts to the per-day latency histogram.
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	// GetLatencyCounts sums latency counts over an inclusive date range.
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// SQLiteMetricsStore is a MetricsStore on modernc.org/sqlite.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore opens or creates the telemetry database at path.
// An empty path keeps it in memory.
func NewSQLiteMetricsStore(path string) (*SQLiteMetricsStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure telemetry database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteMetricsStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS strategy_stats (
		date TEXT NOT NULL,
		strategy TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, strategy)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// upsertCounts runs stmt once per entry inside a transaction.
func (s *SQLiteMetricsStore) upsertCounts(query string, exec func(*sql.Stmt) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := exec(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteMetricsStore) SaveStrategyCounts(date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.upsertCounts(`
		INSERT INTO strategy_stats (date, strategy, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, strategy) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for strategy, n := range counts {
			if _, err := stmt.Exec(date, strategy, n); err != nil {
				return fmt.Errorf("insert strategy count: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteMetricsStore) GetStrategyCounts(from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT strategy, SUM(count)
		FROM strategy_stats
		WHERE date >= ? AND date <= ?
		GROUP BY strategy
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query strategy counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var strategy string
		var n int64
		if err := rows.Scan(&strategy, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[strategy] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteMetricsStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	return s.upsertCounts(`
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`, func(stmt *sql.Stmt) error {
		for term, n := range terms {
			if _, err := stmt.Exec(term, n); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteMetricsStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery inserts query and trims the table to the newest
// maxZeroResultRows entries.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, at time.Time) error {
	if _, err := s.db.Exec(`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`,
		query, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}
	if _, err := s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?
		)
	`, maxZeroResultRows); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.upsertCounts(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for bucket, n := range counts {
			if _, err := stmt.Exec(date, string(bucket), n); err != nil {
				return fmt.Errorf("insert latency count: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count)
		FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var n int64
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteMetricsStore) Close() error {
	return s.db.Close()
}

var _ MetricsStore = (*SQLiteMetricsStore)(nil)
