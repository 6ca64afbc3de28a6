package history

import (
	"context"
	"sync"
)

// Memory keeps the last capacity entries in process memory.
type Memory struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

var _ Recorder = (*Memory)(nil)

// NewMemory returns a bounded in-memory recorder.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 50
	}
	return &Memory{capacity: capacity}
}

// Record appends entry, evicting the oldest one when full.
func (m *Memory) Record(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) < m.capacity {
		m.entries = append(m.entries, entry)
		return nil
	}
	m.entries = append(m.entries[1:], entry)
	return nil
}

// Recent returns up to limit entries, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
