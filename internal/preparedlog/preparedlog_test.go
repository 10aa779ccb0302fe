package preparedlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	participants := []Participant{
		{TableID: 1, KeyHash: 100, RPCID: 11},
		{TableID: 1, KeyHash: 200, RPCID: 12},
	}
	rec := NewRecord(OpWrite, 7, 11, participants, []byte("k\x00v"))

	assert.True(t, rec.CheckIntegrity())

	data := rec.AssembleForLog(nil)
	got, err := ParseRecord(data)
	require.NoError(t, err)

	assert.True(t, got.CheckIntegrity())
	assert.Equal(t, rec.Header, got.Header)
	assert.Equal(t, rec.Participants, got.Participants)
	assert.Equal(t, rec.Object, got.Object)
}

func TestRecordChecksumFlipsIntegrity(t *testing.T) {
	rec := NewRecord(OpWrite, 7, 11, []Participant{{TableID: 1, KeyHash: 2, RPCID: 3}}, []byte("v"))
	data := rec.AssembleForLog(nil)

	for i := range data {
		corrupt := make([]byte, len(data))
		copy(corrupt, data)
		corrupt[i] ^= 0x01

		got, err := ParseRecord(corrupt)
		require.NoError(t, err, "single bit flip must still parse structurally")
		assert.False(t, got.CheckIntegrity(), "byte %d bit flip should break integrity", i)
	}
}

func TestRecordTruncatedParticipants(t *testing.T) {
	rec := NewRecord(OpRead, 1, 2, []Participant{{TableID: 1, KeyHash: 1, RPCID: 1}}, nil)
	data := rec.AssembleForLog(nil)

	// Truncate after the header, before the participant bytes complete.
	truncated := data[:recordHeaderSize+5]
	_, err := ParseRecord(truncated)
	assert.Error(t, err)
}

func TestTombstoneRoundTrip(t *testing.T) {
	tomb := NewTombstone(1, 2, 3, 4, 5)
	assert.True(t, tomb.CheckIntegrity())

	data := tomb.AssembleForLog(nil)
	got, err := ParseTombstone(data)
	require.NoError(t, err)
	assert.Equal(t, tomb.Header, got.Header)
	assert.True(t, got.CheckIntegrity())
}

func TestTombstoneChecksumFlipsIntegrity(t *testing.T) {
	tomb := NewTombstone(1, 2, 3, 4, 5)
	data := tomb.AssembleForLog(nil)
	data[0] ^= 0xFF

	got, err := ParseTombstone(data)
	require.NoError(t, err)
	assert.False(t, got.CheckIntegrity())
}
