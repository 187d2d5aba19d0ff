package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/metrics"
	"github.com/benmeehan/location-agent/internal/models"
)

// DefaultCapacity is the number of recent samples kept when no capacity is configured.
const DefaultCapacity = 1000

// LocationCache is a bounded mirror of recently submitted samples, used to answer
// history queries while offline. Once full, the oldest inserted entry is evicted first.
type LocationCache struct {
	mu       sync.RWMutex
	entries  []models.CachedLocation // ring buffer
	start    int
	size     int
	capacity int
	now      func() time.Time
}

// New creates a cache holding at most capacity entries.
func New(capacity int) *LocationCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LocationCache{
		entries:  make([]models.CachedLocation, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Append mirrors sample into the cache, evicting the oldest entry when full.
func (c *LocationCache) Append(sample models.LocationSample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := models.CachedLocation{LocationSample: sample, SavedAt: c.now().UnixMilli()}
	if c.size < c.capacity {
		c.entries[(c.start+c.size)%c.capacity] = entry
		c.size++
		metrics.CacheEntries.Set(float64(c.size))
		return
	}
	c.entries[c.start] = entry
	c.start = (c.start + 1) % c.capacity
}

// Query returns cached samples with start <= timestamp <= end, ascending by timestamp.
func (c *LocationCache) Query(start, end int64) []models.LocationSample {
	c.mu.RLock()
	out := make([]models.LocationSample, 0)
	for i := 0; i < c.size; i++ {
		entry := c.entries[(c.start+i)%c.capacity]
		if entry.Timestamp >= start && entry.Timestamp <= end {
			out = append(out, entry.LocationSample)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// DeleteOlderThan drops entries with timestamp < olderThan and returns how many were removed.
func (c *LocationCache) DeleteOlderThan(olderThan int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make([]models.CachedLocation, 0, c.size)
	for i := 0; i < c.size; i++ {
		entry := c.entries[(c.start+i)%c.capacity]
		if entry.Timestamp >= olderThan {
			kept = append(kept, entry)
		}
	}
	removed := c.size - len(kept)

	c.entries = make([]models.CachedLocation, c.capacity)
	copy(c.entries, kept)
	c.start = 0
	c.size = len(kept)
	metrics.CacheEntries.Set(float64(c.size))
	return removed
}

// Entries returns the cached entries in insertion order.
func (c *LocationCache) Entries() []models.CachedLocation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.CachedLocation, 0, c.size)
	for i := 0; i < c.size; i++ {
		out = append(out, c.entries[(c.start+i)%c.capacity])
	}
	return out
}

// Len returns the number of cached entries.
func (c *LocationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Capacity returns the configured bound.
func (c *LocationCache) Capacity() int {
	return c.capacity
}
