package store

import (
	"context"
	"sync"
)

// MemoryLedger keeps the most recent generations in process memory.
type MemoryLedger struct {
	mu         sync.RWMutex
	records    []Generation
	maxRecords int
}

func NewMemoryLedger(maxRecords int) *MemoryLedger {
	return &MemoryLedger{maxRecords: maxRecords}
}

func (m *MemoryLedger) Record(ctx context.Context, g Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, g)
	m.trimLocked()
	return nil
}

func (m *MemoryLedger) Recent(ctx context.Context, limit int) ([]Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Generation, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryLedger) Close() error { return nil }

func (m *MemoryLedger) trimLocked() {
	if m.maxRecords <= 0 {
		return
	}
	if len(m.records) > m.maxRecords {
		m.records = append([]Generation(nil), m.records[len(m.records)-m.maxRecords:]...)
	}
}
