package preparedops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/logstore"
	"github.com/ocx/backend/internal/objectmanager"
	"github.com/ocx/backend/internal/preparedlog"
)

type fakeRecovery struct {
	mu    sync.Mutex
	calls []Key
	done  chan struct{}
}

func newFakeRecovery() *fakeRecovery {
	return &fakeRecovery{done: make(chan struct{}, 16)}
}

func (f *fakeRecovery) NotifyRecovery(_ context.Context, leaseID, rpcID uint64, _ []preparedlog.Participant) {
	f.mu.Lock()
	f.calls = append(f.calls, Key{LeaseID: leaseID, RPCID: rpcID})
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeRecovery) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func appendRecord(t *testing.T, store logstore.LogStore, rec preparedlog.Record) logstore.LogRef {
	t.Helper()
	ref, err := store.Append(context.Background(), rec.AssembleForLog(nil))
	require.NoError(t, err)
	return ref
}

func TestBufferOpPopOp(t *testing.T) {
	store, err := logstore.New(logstore.Config{})
	require.NoError(t, err)
	rec := preparedlog.NewRecord(preparedlog.OpWrite, 7, 11, nil, []byte("v"))
	ref := appendRecord(t, store, rec)

	table := New(store, newFakeRecovery(), time.Hour, nil)
	key := Key{LeaseID: 7, RPCID: 11}

	require.NoError(t, table.BufferOp(key, ref, false))
	assert.Equal(t, 1, table.Len())

	got, ok := table.PopOp(key)
	require.True(t, ok)
	assert.Equal(t, ref, got)
	assert.Equal(t, 0, table.Len())

	_, ok = table.PopOp(key)
	assert.False(t, ok, "popOp on an absent entry returns the null sentinel")
}

func TestBufferOpDuplicateOutsideRecoveryIsError(t *testing.T) {
	store, _ := logstore.New(logstore.Config{})
	table := New(store, newFakeRecovery(), time.Hour, nil)
	key := Key{LeaseID: 1, RPCID: 1}

	require.NoError(t, table.BufferOp(key, logstore.NewLogRef(0, 0), false))
	err := table.BufferOp(key, logstore.NewLogRef(0, 1), false)
	assert.Error(t, err)
}

func TestBufferOpDuplicateDuringRecoveryReplaces(t *testing.T) {
	store, _ := logstore.New(logstore.Config{})
	table := New(store, newFakeRecovery(), time.Hour, nil)
	key := Key{LeaseID: 1, RPCID: 1}

	require.NoError(t, table.BufferOp(key, logstore.NewLogRef(0, 0), false))
	require.NoError(t, table.BufferOp(key, logstore.NewLogRef(0, 9), true))

	got, ok := table.PeekOp(key)
	require.True(t, ok)
	assert.Equal(t, logstore.NewLogRef(0, 9), got)
}

func TestUpdatePtrReplacesLogRef(t *testing.T) {
	store, _ := logstore.New(logstore.Config{})
	table := New(store, newFakeRecovery(), time.Hour, nil)
	key := Key{LeaseID: 1, RPCID: 1}

	require.NoError(t, table.BufferOp(key, logstore.NewLogRef(0, 0), false))
	require.True(t, table.UpdatePtr(key, logstore.NewLogRef(1, 2)))

	got, ok := table.PeekOp(key)
	require.True(t, ok)
	assert.Equal(t, logstore.NewLogRef(1, 2), got)

	assert.False(t, table.UpdatePtr(Key{LeaseID: 99, RPCID: 99}, logstore.NewLogRef(0, 0)))
}

func TestMarkDeletedMonotonic(t *testing.T) {
	store, _ := logstore.New(logstore.Config{})
	table := New(store, newFakeRecovery(), time.Hour, nil)
	key := Key{LeaseID: 1, RPCID: 1}

	require.NoError(t, table.BufferOp(key, logstore.NewLogRef(0, 0), false))
	assert.False(t, table.IsDeleted(key))
	assert.True(t, table.MarkDeleted(key))
	assert.True(t, table.IsDeleted(key))
}

func TestWatchdogFiresExactlyOnce(t *testing.T) {
	store, _ := logstore.New(logstore.Config{})
	rec := preparedlog.NewRecord(preparedlog.OpWrite, 7, 11,
		[]preparedlog.Participant{{TableID: 1, KeyHash: 2, RPCID: 11}}, []byte("v"))
	ref := appendRecord(t, store, rec)

	recovery := newFakeRecovery()
	table := New(store, recovery, 5*time.Millisecond, nil)
	key := Key{LeaseID: 7, RPCID: 11}

	require.NoError(t, table.BufferOp(key, ref, false))

	select {
	case <-recovery.done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	assert.Equal(t, 1, recovery.callCount())
	_, ok := table.PeekOp(key)
	assert.False(t, ok, "entry should be removed once the watchdog claims it")
}

func TestWatchdogVersusPopOpExactlyOneWinner(t *testing.T) {
	store, _ := logstore.New(logstore.Config{})
	rec := preparedlog.NewRecord(preparedlog.OpWrite, 7, 11, nil, []byte("v"))
	ref := appendRecord(t, store, rec)

	recovery := newFakeRecovery()
	table := New(store, recovery, 2*time.Millisecond, nil)
	key := Key{LeaseID: 7, RPCID: 11}
	require.NoError(t, table.BufferOp(key, ref, false))

	time.Sleep(10 * time.Millisecond) // let the watchdog win the race deterministically
	_, popOk := table.PopOp(key)

	select {
	case <-recovery.done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	assert.False(t, popOk, "popOp must lose once the watchdog has claimed the entry")
	assert.Equal(t, 1, recovery.callCount())
}

func TestRegrabLocksAfterRecovery(t *testing.T) {
	store, _ := logstore.New(logstore.Config{})
	rec := preparedlog.NewRecord(preparedlog.OpWrite, 7, 11,
		[]preparedlog.Participant{
			{TableID: 1, KeyHash: 100, RPCID: 11},
			{TableID: 1, KeyHash: 200, RPCID: 11},
		}, []byte("v"))
	ref := appendRecord(t, store, rec)

	table := New(store, newFakeRecovery(), time.Hour, nil)
	key := Key{LeaseID: 7, RPCID: 11}
	require.NoError(t, table.BufferOp(key, ref, true))

	objMgr := objectmanager.NewInMemory()
	require.NoError(t, table.RegrabLocksAfterRecovery(context.Background(), objMgr))

	assert.True(t, objMgr.IsLocked(objectmanager.Key{TableID: 1, KeyHash: 100}))
	assert.True(t, objMgr.IsLocked(objectmanager.Key{TableID: 1, KeyHash: 200}))
}
