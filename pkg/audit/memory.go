package audit

import (
	"context"
	"sync"
)

// MemoryStorage is an in-memory audit storage backend. It is intended
// for tests and short-lived processes; records are lost on restart.
// Safe for concurrent use.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStorage creates an empty in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store appends a record.
func (m *MemoryStorage) Store(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *record
	m.records = append(m.records, &copied)
	return nil
}

// Query returns matching records, newest first.
func (m *MemoryStorage) Query(_ context.Context, query *Query) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if query == nil {
		query = &Query{}
	}

	var out []*Record
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if !query.Matches(r) {
			continue
		}
		copied := *r
		out = append(out, &copied)
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of matching records.
func (m *MemoryStorage) Count(_ context.Context, query *Query) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if query == nil {
		query = &Query{}
	}

	var count int64
	for _, r := range m.records {
		if query.Matches(r) {
			count++
		}
	}
	return count, nil
}

// Delete removes matching records.
func (m *MemoryStorage) Delete(_ context.Context, query *Query) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if query == nil {
		query = &Query{}
	}

	var kept []*Record
	var deleted int64
	for _, r := range m.records {
		if query.Matches(r) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
