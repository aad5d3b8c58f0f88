package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketUnder10ms, LatencyToBucket(5*time.Millisecond))
	assert.Equal(t, BucketUnder50ms, LatencyToBucket(30*time.Millisecond))
	assert.Equal(t, BucketUnder100ms, LatencyToBucket(99*time.Millisecond))
	assert.Equal(t, BucketUnder500ms, LatencyToBucket(250*time.Millisecond))
	assert.Equal(t, BucketOver500ms, LatencyToBucket(2*time.Second))
}

func TestQueryMetrics_Aggregates(t *testing.T) {
	m := NewQueryMetrics(16)

	m.Record(QueryEvent{Query: "refund policy", ResultCount: 3, Latency: 20 * time.Millisecond})
	m.Record(QueryEvent{Query: "Refund  Policy", ResultCount: 0, Latency: 700 * time.Millisecond, RerankDegraded: true})
	m.Record(QueryEvent{Query: "api timeout", ResultCount: 1, Latency: 5 * time.Millisecond})

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Queries)
	// Normalized duplicates count once.
	assert.Equal(t, 2, snap.UniqueQueries)
	assert.Equal(t, int64(1), snap.ZeroResult)
	assert.Equal(t, int64(1), snap.RerankDegraded)
	assert.Equal(t, int64(1), snap.Latency[BucketUnder50ms])
	assert.Equal(t, int64(1), snap.Latency[BucketOver500ms])
	assert.Equal(t, int64(1), snap.Latency[BucketUnder10ms])
}

func TestQueryMetrics_SnapshotIsACopy(t *testing.T) {
	m := NewQueryMetrics(4)
	m.Record(QueryEvent{Query: "a", ResultCount: 1, Latency: time.Millisecond})

	snap := m.Snapshot()
	snap.Latency[BucketUnder10ms] = 99

	assert.Equal(t, int64(1), m.Snapshot().Latency[BucketUnder10ms])
}
