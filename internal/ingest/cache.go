package ingest

import (
	"sync"
	"time"

	"miraqua/internal/types"
)

// snapshotKey identifies one plot+metric channel in the cache.
type snapshotKey struct {
	plotID string
	metric types.Metric
}

// SnapshotCache holds the last known good reading per plot+metric. It is the
// only ingest state the Decision Engine consults; the readings table behind
// it is an append-only log.
type SnapshotCache struct {
	mu        sync.RWMutex
	snapshots map[snapshotKey]types.ReadingSnapshot
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{snapshots: make(map[snapshotKey]types.ReadingSnapshot)}
}

// Put stores a snapshot if it is newer than the current one for its channel.
// Returns false when an equal-or-newer snapshot is already present, which is
// how out-of-order telemetry is kept from rolling the channel backwards.
func (c *SnapshotCache) Put(s types.ReadingSnapshot) bool {
	key := snapshotKey{plotID: s.PlotID, metric: s.Metric}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.snapshots[key]; ok && !s.RecordedAt.After(cur.RecordedAt) {
		return false
	}
	c.snapshots[key] = s
	return true
}

// Get returns the snapshot for a plot+metric, if present.
func (c *SnapshotCache) Get(plotID string, metric types.Metric) (types.ReadingSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[snapshotKey{plotID: plotID, metric: metric}]
	return s, ok
}

// ForPlot returns all snapshots for a plot keyed by metric.
func (c *SnapshotCache) ForPlot(plotID string) map[types.Metric]types.ReadingSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[types.Metric]types.ReadingSnapshot)
	for key, s := range c.snapshots {
		if key.plotID == plotID {
			out[key.metric] = s
		}
	}
	return out
}

// LastSeen returns the newest RecordedAt across all metrics of a plot, or a
// zero time when the plot has never reported. Dropout detection compares
// this against the dropout timeout.
func (c *SnapshotCache) LastSeen(plotID string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var last time.Time
	for key, s := range c.snapshots {
		if key.plotID == plotID && s.RecordedAt.After(last) {
			last = s.RecordedAt
		}
	}
	return last
}

// Drop removes all snapshots for a plot. Called when a plot is archived.
func (c *SnapshotCache) Drop(plotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.snapshots {
		if key.plotID == plotID {
			delete(c.snapshots, key)
		}
	}
}
