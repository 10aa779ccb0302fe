package objectmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockUnlockRoundTrip(t *testing.T) {
	m := NewInMemory()
	key := Key{TableID: 1, KeyHash: 42}

	assert.False(t, m.IsLocked(key))
	require.NoError(t, m.Lock(key, "txn-a"))
	assert.True(t, m.IsLocked(key))

	require.NoError(t, m.Unlock(key, "txn-a"))
	assert.False(t, m.IsLocked(key))
}

func TestLockConflict(t *testing.T) {
	m := NewInMemory()
	key := Key{TableID: 1, KeyHash: 42}

	require.NoError(t, m.Lock(key, "txn-a"))
	err := m.Lock(key, "txn-b")
	assert.Error(t, err)
}

func TestLockReentrantSameHolder(t *testing.T) {
	m := NewInMemory()
	key := Key{TableID: 1, KeyHash: 42}

	require.NoError(t, m.Lock(key, "txn-a"))
	require.NoError(t, m.Lock(key, "txn-a"))
}

func TestUnlockByWrongHolderIsNoOp(t *testing.T) {
	m := NewInMemory()
	key := Key{TableID: 1, KeyHash: 42}

	require.NoError(t, m.Lock(key, "txn-a"))
	require.NoError(t, m.Unlock(key, "txn-b"))
	assert.True(t, m.IsLocked(key), "lock held by a different holder must survive")
}
