package store

import (
	"context"
	"sort"
	"sync"
)

// DefaultMemoryRecords caps the in-memory history of a long-running server.
const DefaultMemoryRecords = 1000

// Memory is an in-memory Store. When max is positive, Put evicts the oldest
// records so that at most max are kept.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	max     int
}

// NewMemory creates an empty, unbounded in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// NewBoundedMemory creates an in-memory store that keeps the newest limit records.
func NewBoundedMemory(limit int) *Memory {
	return &Memory{records: make(map[string]Record), max: limit}
}

func (m *Memory) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) Put(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = *rec
	for m.max > 0 && len(m.records) > m.max {
		delete(m.records, m.oldest())
	}
	return nil
}

// oldest returns the ID that sorts last in List order. Callers hold m.mu.
func (m *Memory) oldest() string {
	var (
		id    string
		found bool
		rec   Record
	)
	for k, r := range m.records {
		if !found || r.CreatedAt.Before(rec.CreatedAt) ||
			(r.CreatedAt.Equal(rec.CreatedAt) && k > id) {
			id, rec, found = k, r, true
		}
	}
	return id
}

func (m *Memory) List(ctx context.Context, limit int) ([]*Record, error) {
	m.mu.RLock()
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		rec := rec
		out = append(out, &rec)
	}
	m.mu.RUnlock()
	return newestFirst(out, limit), nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)

// newestFirst sorts recs by CreatedAt descending and truncates to limit.
func newestFirst(recs []*Record, limit int) []*Record {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
