package tracker

import (
	"context"
	"sort"
	"sync"
)

// Store persists job records keyed by chunk name.
type Store interface {
	Get(ctx context.Context, chunk string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, chunk string) error
	Close() error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(_ context.Context, chunk string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[chunk]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Chunk] = rec
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[chunk]; !ok {
		return ErrNotFound
	}
	delete(m.records, chunk)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Chunk < recs[j].Chunk })
}
