// Package telemetry aggregates retrieval query metrics in memory. All
// data stays local; the HTTP API exposes a snapshot for operators.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is one histogram bucket of end-to-end query latency.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt_10ms"
	BucketUnder50ms  LatencyBucket = "lt_50ms"
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketOver500ms  LatencyBucket = "gte_500ms"
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketOver500ms
	}
}

// QueryEvent is one recorded retrieval query.
type QueryEvent struct {
	Query          string
	ResultCount    int
	Latency        time.Duration
	RerankDegraded bool
}

// Snapshot is a point-in-time view of the aggregated metrics.
type Snapshot struct {
	Queries        int64                   `json:"queries"`
	UniqueQueries  int                     `json:"unique_queries"`
	ZeroResult     int64                   `json:"zero_result"`
	RerankDegraded int64                   `json:"rerank_degraded"`
	Latency        map[LatencyBucket]int64 `json:"latency"`
}

// QueryMetrics aggregates query events. Unique queries are tracked by
// hash in a bounded LRU so memory stays flat under load.
type QueryMetrics struct {
	mu             sync.Mutex
	queries        int64
	zeroResult     int64
	rerankDegraded int64
	latency        map[LatencyBucket]int64
	seen           *lru.Cache[string, struct{}]
}

// NewQueryMetrics creates a collector tracking up to uniqueCap distinct
// queries.
func NewQueryMetrics(uniqueCap int) *QueryMetrics {
	if uniqueCap <= 0 {
		uniqueCap = 1024
	}
	seen, _ := lru.New[string, struct{}](uniqueCap)
	return &QueryMetrics{
		latency: make(map[LatencyBucket]int64),
		seen:    seen,
	}
}

// Record aggregates one query event.
func (m *QueryMetrics) Record(e QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries++
	if e.ResultCount == 0 {
		m.zeroResult++
	}
	if e.RerankDegraded {
		m.rerankDegraded++
	}
	m.latency[LatencyToBucket(e.Latency)]++
	m.seen.Add(queryHash(e.Query), struct{}{})
}

// Snapshot returns a copy of the current aggregates.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := make(map[LatencyBucket]int64, len(m.latency))
	for bucket, n := range m.latency {
		latency[bucket] = n
	}
	return Snapshot{
		Queries:        m.queries,
		UniqueQueries:  m.seen.Len(),
		ZeroResult:     m.zeroResult,
		RerankDegraded: m.rerankDegraded,
		Latency:        latency,
	}
}

// queryHash identifies a query without retaining its text.
func queryHash(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}
