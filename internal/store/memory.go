package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a map-backed CacheStore. It serves development setups with
// no Postgres configured, and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]AnalysisRecord

	// Now is swapped out in tests to control time.
	Now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]AnalysisRecord),
		Now:     time.Now,
	}
}

func (m *MemoryStore) Lookup(_ context.Context, url string) (AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[url]
	if !ok {
		return AnalysisRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Upsert(_ context.Context, rec AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CachedAt.IsZero() {
		rec.CachedAt = m.Now().UTC()
	}
	if existing, ok := m.records[rec.URL]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.CachedAt
	}
	m.records[rec.URL] = rec
	return nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for url, rec := range m.records {
		if rec.CachedAt.Before(cutoff) {
			delete(m.records, url)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) All(_ context.Context) ([]AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AnalysisRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CachedAt.After(out[j].CachedAt) })
	return out, nil
}
