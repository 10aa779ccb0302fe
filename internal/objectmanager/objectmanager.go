// Package objectmanager defines the lock surface the prepared-ops table
// re-asserts against after a master restart replays its prepared-op log
// records, so recovered locks land somewhere real instead of nowhere.
package objectmanager

import (
	"fmt"
	"sync"
)

// Key identifies one object: a table and the hash of its key.
type Key struct {
	TableID uint64
	KeyHash uint64
}

// ObjectManager is the minimal lock surface the core depends on.
type ObjectManager interface {
	Lock(key Key, holder string) error
	Unlock(key Key, holder string) error
	IsLocked(key Key) bool
}

// InMemory is a map-backed ObjectManager used in tests and as the
// reference implementation: one holder per key, re-entrant locking by
// the same holder is a no-op, locking by a different holder is an error.
type InMemory struct {
	mu     sync.Mutex
	locked map[Key]string // key -> holder
}

// NewInMemory returns an empty InMemory object manager.
func NewInMemory() *InMemory {
	return &InMemory{locked: make(map[Key]string)}
}

// Lock asserts the lock on key for holder. Re-locking by the same holder
// is idempotent; a held lock cannot be taken by a different holder.
func (m *InMemory) Lock(key Key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locked[key]; ok {
		if existing == holder {
			return nil
		}
		return fmt.Errorf("objectmanager: key %+v already locked by %q", key, existing)
	}
	m.locked[key] = holder
	return nil
}

// Unlock releases the lock on key if held by holder. Unlocking an
// unheld key, or one held by a different holder, is a no-op: callers in
// the recovery path cannot distinguish "already released" from "never
// held" without extra bookkeeping the spec does not require.
func (m *InMemory) Unlock(key Key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked[key] == holder {
		delete(m.locked, key)
	}
	return nil
}

// IsLocked reports whether key currently has a holder.
func (m *InMemory) IsLocked(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locked[key]
	return ok
}
