// Package telemetry records search activity: Prometheus collectors for
// scraping and in-process query statistics for the status tool. Nothing is
// reported externally.
package telemetry

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/tablerag/internal/store"
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

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

// QueryEvent is one finished search.
type QueryEvent struct {
	Query       string
	Mode        string
	ResultCount int
	Latency     time.Duration
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// QueryStatsSnapshot is an immutable copy of the collected statistics.
type QueryStatsSnapshot struct {
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	Since               time.Time               `json:"since"`
}

// QueryStatsConfig bounds the memory used by QueryStats.
type QueryStatsConfig struct {
	TopTermsCapacity    int // default: 100
	ZeroResultsCapacity int // default: 50
}

// QueryStats aggregates searches in memory. Safe for concurrent use; a nil
// *QueryStats records nothing.
type QueryStats struct {
	mu          sync.Mutex
	modes       map[string]int64
	latencies   map[LatencyBucket]int64
	topTerms    *lru.Cache[string, int64]
	zeroResults *CircularBuffer[string]
	total       int64
	since       time.Time
	stopWords   map[string]struct{}
}

// NewQueryStats creates a collector.
func NewQueryStats(cfg QueryStatsConfig) *QueryStats {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 50
	}
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	return &QueryStats{
		modes:       make(map[string]int64),
		latencies:   make(map[LatencyBucket]int64),
		topTerms:    topTerms,
		zeroResults: NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		since:       time.Now(),
		stopWords:   store.BuildStopWordMap(store.DefaultStopWords),
	}
}

// Record captures one search.
func (s *QueryStats) Record(event QueryEvent) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.modes[event.Mode]++
	s.latencies[LatencyToBucket(event.Latency)]++

	for _, term := range store.Tokenize(event.Query, s.stopWords) {
		count, _ := s.topTerms.Get(term)
		s.topTerms.Add(term, count+1)
	}
	if event.ResultCount == 0 {
		s.zeroResults.Add(event.Query)
	}
}

// Snapshot returns the current statistics; top terms are ordered by count,
// then term.
func (s *QueryStats) Snapshot() *QueryStatsSnapshot {
	if s == nil {
		return &QueryStatsSnapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	modes := make(map[string]int64, len(s.modes))
	for k, v := range s.modes {
		modes[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(s.latencies))
	for k, v := range s.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, s.topTerms.Len())
	for _, key := range s.topTerms.Keys() {
		if count, ok := s.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	return &QueryStatsSnapshot{
		ModeCounts:          modes,
		TopTerms:            terms,
		ZeroResultQueries:   s.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        s.total,
		Since:               s.since,
	}
}
