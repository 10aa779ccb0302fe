package logstore

import (
	"context"
	"fmt"
	"sync"
)

// memoryStore is a single-segment, in-process LogStore. Used in tests and
// for local development where durability across process restarts is not
// required. Records are kept individually, keyed by the offset they were
// assigned at append time, rather than concatenated into one buffer: the
// core always reads back exactly the bytes it appended, never a range.
type memoryStore struct {
	mu      sync.Mutex
	records map[uint32][]byte
	next    uint32
}

func newMemoryStore() *memoryStore {
	// Offset 0 is reserved so a valid LogRef's packed form is never
	// NewLogRef(0, 0), which equals NilLogRef.
	return &memoryStore{records: make(map[uint32][]byte), next: 1}
}

func (m *memoryStore) Append(_ context.Context, data []byte) (LogRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := m.next
	m.next++
	buf := make([]byte, len(data))
	copy(buf, data)
	m.records[offset] = buf
	return NewLogRef(0, offset), nil
}

func (m *memoryStore) Read(_ context.Context, ref LogRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ref.SegmentID() != 0 {
		return nil, fmt.Errorf("logstore: memory backend has only segment 0, got %d", ref.SegmentID())
	}
	data, ok := m.records[ref.Offset()]
	if !ok {
		return nil, fmt.Errorf("logstore: no record at offset %d", ref.Offset())
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}
