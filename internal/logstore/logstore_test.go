package logstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendRead(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore()

	ref1, err := s.Append(ctx, []byte("record-one"))
	require.NoError(t, err)
	ref2, err := s.Append(ctx, []byte("record-two"))
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref2)

	got1, err := s.Read(ctx, ref1)
	require.NoError(t, err)
	assert.Equal(t, "record-one", string(got1))

	got2, err := s.Read(ctx, ref2)
	require.NoError(t, err)
	assert.Equal(t, "record-two", string(got2))
}

func TestMemoryStoreFirstRefIsNotNil(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore()

	ref, err := s.Append(ctx, []byte("first"))
	require.NoError(t, err)
	assert.NotEqual(t, NilLogRef, ref)
}

func TestMemoryStoreReadMissing(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore()
	_, err := s.Read(ctx, NewLogRef(0, 42))
	assert.Error(t, err)
}

func TestLogRefPacking(t *testing.T) {
	ref := NewLogRef(7, 1234)
	assert.Equal(t, uint32(7), ref.SegmentID())
	assert.Equal(t, uint32(1234), ref.Offset())
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestNewDefaultsToMemory(t *testing.T) {
	store, err := New(Config{})
	require.NoError(t, err)
	defer store.Close()

	ref, err := store.Append(context.Background(), []byte("x"))
	require.NoError(t, err)
	data, err := store.Read(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
