// Package telemetry observes hybrid searches: Prometheus metrics for scraping
// and an in-process query summary for the search_stats tool. Nothing is
// reported outside the machine.
package telemetry

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/fusesearch/internal/fusion"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a coarse latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// AllLatencyBuckets lists the buckets fastest first.
var AllLatencyBuckets = []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int // next write position
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer; capacity <= 0 means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		copy(out, b.items[b.head:])
		copy(out[b.capacity-b.head:], b.items[:b.head])
	}
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Terms
// =============================================================================

// ExtractTerms lowercases query and keeps whitespace-separated terms of at
// least three bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// QueryMetricsSnapshot is an immutable copy of the collected metrics.
type QueryMetricsSnapshot struct {
	StrategyCounts      map[string]int64        `json:"strategy_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	FailedQueries       int64                   `json:"failed_queries"`
	DegradedQueries     int64                   `json:"degraded_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	BothFoundHits       int64                   `json:"both_found_hits"`
	ReturnedHits        int64                   `json:"returned_hits"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of successful queries that
// returned nothing.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	ok := s.TotalQueries - s.FailedQueries
	if ok <= 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(ok) * 100
}

// OverlapRatio is the share of all returned hits that both backends found.
func (s *QueryMetricsSnapshot) OverlapRatio() float64 {
	if s.ReturnedHits == 0 {
		return 0
	}
	return float64(s.BothFoundHits) / float64(s.ReturnedHits)
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetricsConfig configures a QueryMetrics.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // distinct terms tracked (default 100)
	ZeroResultsCapacity   int           // zero-result queries kept (default 100)
	RecentQueriesCapacity int           // query hashes kept for repeat detection (default 500)
	FlushInterval         time.Duration // 0 disables auto-flush
}

// DefaultQueryMetricsConfig returns the defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// QueryMetrics aggregates search records in memory and optionally flushes
// deltas to a MetricsStore. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	strategies    map[string]int64
	latencies     map[LatencyBucket]int64
	topTerms      *lru.Cache[string, int64]
	zeroResults   *CircularBuffer[string]
	recentQueries *lru.Cache[uint64, struct{}]

	total, failed, degraded, zero int64
	bothFound, returned           int64
	exactRepeats                  int64
	startTime                     time.Time

	// Deltas since the last flush.
	pendingStrategies map[string]int64
	pendingLatencies  map[LatencyBucket]int64
	pendingTerms      map[string]int64
	pendingZero       []zeroResult

	store  MetricsStore
	logger *slog.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	done   chan struct{}
	closed bool
}

type zeroResult struct {
	query string
	at    time.Time
}

// NewQueryMetrics creates a collector with default configuration. store may
// be nil to keep metrics in memory only.
func NewQueryMetrics(store MetricsStore, logger *slog.Logger) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig(), logger)
}

// NewQueryMetricsWithConfig creates a collector with cfg.
func NewQueryMetricsWithConfig(store MetricsStore, cfg QueryMetricsConfig, logger *slog.Logger) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[uint64, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		strategies:        make(map[string]int64),
		latencies:         make(map[LatencyBucket]int64),
		topTerms:          topTerms,
		zeroResults:       NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries:     recent,
		startTime:         time.Now(),
		pendingStrategies: make(map[string]int64),
		pendingLatencies:  make(map[LatencyBucket]int64),
		pendingTerms:      make(map[string]int64),
		store:             store,
		logger:            logger,
		stopCh:            make(chan struct{}),
		done:              make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	} else {
		close(m.done)
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// ObserveSearch implements fusion.Observer.
func (m *QueryMetrics) ObserveSearch(rec fusion.SearchRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	strategy := string(rec.Strategy)
	m.total++
	m.strategies[strategy]++
	m.pendingStrategies[strategy]++

	bucket := LatencyToBucket(rec.Elapsed)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	for _, term := range ExtractTerms(rec.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	key := xxhash.Sum64String(strings.ToLower(strings.TrimSpace(rec.Query)))
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeats++
	}
	m.recentQueries.Add(key, struct{}{})

	if rec.Err != nil {
		m.failed++
		return
	}
	if rec.Degraded {
		m.degraded++
	}
	m.returned += int64(rec.Hits)
	m.bothFound += int64(rec.BothFoundCount)
	if rec.Hits == 0 {
		m.zero++
		m.zeroResults.Add(rec.Query)
		m.pendingZero = append(m.pendingZero, zeroResult{query: rec.Query, at: time.Now()})
	}
}

// Snapshot returns a copy of the current metrics. Top terms are sorted by
// count, most frequent first.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	strategies := make(map[string]int64, len(m.strategies))
	for k, v := range m.strategies {
		strategies[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	slices.SortStableFunc(terms, func(a, b TermCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Term, b.Term)
	})

	var repeatRate float64
	if m.total > 0 {
		repeatRate = float64(m.exactRepeats) / float64(m.total)
	}

	return &QueryMetricsSnapshot{
		StrategyCounts:      strategies,
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.total,
		FailedQueries:       m.failed,
		DegradedQueries:     m.degraded,
		ZeroResultCount:     m.zero,
		BothFoundHits:       m.bothFound,
		ReturnedHits:        m.returned,
		ExactRepeatCount:    m.exactRepeats,
		ExactRepeatRate:     repeatRate,
		Since:               m.startTime,
	}
}

// Flush writes the counts accumulated since the previous flush to the store.
// It is a no-op without a store.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	strategies, latencies, terms, zero := m.pendingStrategies, m.pendingLatencies, m.pendingTerms, m.pendingZero
	m.pendingStrategies = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if err := m.store.SaveStrategyCounts(today, strategies); err != nil {
		return err
	}
	if err := m.store.SaveLatencyCounts(today, latencies); err != nil {
		return err
	}
	if err := m.store.UpsertTermCounts(terms); err != nil {
		return err
	}
	for _, z := range zero {
		if err := m.store.AddZeroResultQuery(z.query, z.at); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the flush loop and performs a final flush.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	<-m.done
	return m.Flush()
}

var _ fusion.Observer = (*QueryMetrics)(nil)
