package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/models"
)

// Store persists location records for the reference backend.
type Store interface {
	// Insert stores sample as a new record. Duplicates are stored as separate records.
	Insert(ctx context.Context, sample models.LocationSample) (models.LocationRecord, error)
	// Range returns records with start <= timestamp <= end in ascending timestamp order.
	Range(ctx context.Context, start, end int64) ([]models.LocationRecord, error)
	// Latest returns up to limit records, newest timestamp first.
	Latest(ctx context.Context, limit int) ([]models.LocationRecord, error)
	// DeleteOlderThan removes records with timestamp < olderThan.
	DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error)
	// DeleteAll removes every record.
	DeleteAll(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// MaxTimestamp is the open upper bound for Range.
const MaxTimestamp = math.MaxInt64

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.LocationRecord
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, now: time.Now}
}

func (m *MemoryStore) Insert(ctx context.Context, sample models.LocationSample) (models.LocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := models.LocationRecord{
		ID:             m.nextID,
		LocationSample: sample,
		CreatedAt:      m.now().UnixMilli(),
	}
	m.nextID++
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *MemoryStore) Range(ctx context.Context, start, end int64) ([]models.LocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.LocationRecord{}
	for _, r := range m.records {
		if r.Timestamp >= start && r.Timestamp <= end {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemoryStore) Latest(ctx context.Context, limit int) ([]models.LocationRecord, error) {
	m.mu.RLock()
	out := make([]models.LocationRecord, len(m.records))
	copy(out, m.records)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteOlderThan(ctx context.Context, olderThan int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.Timestamp < olderThan {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.records))
	m.records = nil
	return n, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() {}
