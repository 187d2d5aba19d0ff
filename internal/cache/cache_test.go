package cache

import (
	"testing"

	"github.com/benmeehan/location-agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(ts int64) models.LocationSample {
	return models.LocationSample{Latitude: 1, Longitude: 2, Timestamp: ts, DeviceID: "dev-1"}
}

func TestLocationCache_EvictsOldestFirst(t *testing.T) {
	c := New(DefaultCapacity)
	for i := int64(0); i < 1001; i++ {
		c.Append(sample(i))
	}

	require.Equal(t, 1000, c.Len())
	entries := c.Entries()
	assert.Equal(t, int64(1), entries[0].Timestamp, "t=0 must have been evicted")
	assert.Equal(t, int64(1000), entries[len(entries)-1].Timestamp)
	assert.Empty(t, c.Query(0, 0))
}

func TestLocationCache_QueryRangeInclusiveAndSorted(t *testing.T) {
	c := New(10)
	for _, ts := range []int64{105, 100, 103, 110, 101} {
		c.Append(sample(ts))
	}

	got := c.Query(100, 105)
	ts := make([]int64, 0, len(got))
	for _, s := range got {
		ts = append(ts, s.Timestamp)
	}
	assert.Equal(t, []int64{100, 101, 103, 105}, ts)
}

func TestLocationCache_SetsSavedAt(t *testing.T) {
	c := New(2)
	c.Append(sample(200))
	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.NotZero(t, entries[0].SavedAt)
}

func TestLocationCache_DeleteOlderThan(t *testing.T) {
	c := New(3)
	for _, ts := range []int64{1, 2, 3, 4} { // 1 evicted
		c.Append(sample(ts))
	}

	removed := c.DeleteOlderThan(4)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	// Capacity is still honoured after pruning.
	for _, ts := range []int64{5, 6, 7} {
		c.Append(sample(ts))
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(5), c.Entries()[0].Timestamp)
}

func TestLocationCache_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
}
