package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingRoundTrip(t *testing.T) {
	p := NewPingRequest(0x42)
	typ, err := PeekType(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, MsgPing, typ)

	got, err := UnmarshalPing(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPingBit63Preserved(t *testing.T) {
	const coordNonce = uint64(0x8000000000000001)
	p := NewPingRequest(coordNonce)
	got, err := UnmarshalPing(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, coordNonce, got.Nonce)
	assert.NotZero(t, got.Nonce&0x8000000000000000)
}

func TestProxyPingRoundTrip(t *testing.T) {
	p := NewProxyPing("fast+udp:host=127.0.0.1,port=11000")
	got, err := UnmarshalProxyPing(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestProxyPingResponseUnreachableSentinel(t *testing.T) {
	p := NewProxyPingResponse(UnreachableNanos)
	got, err := UnmarshalProxyPingResponse(p.Marshal())
	require.NoError(t, err)
	assert.Equal(t, UnreachableNanos, got.ReplyNanoseconds)
}

func TestHintServerDownRoundTrip(t *testing.T) {
	h := NewHintServerDown("tcp:host=10.0.0.5,port=11001")
	got, err := UnmarshalHintServerDown(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestGetServerListRequestRoundTrip(t *testing.T) {
	g := NewGetServerListRequest(3)
	got, err := UnmarshalGetServerListRequest(g.Marshal())
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestMalformedDatagramsRejected(t *testing.T) {
	_, err := UnmarshalPing([]byte{0, 1, 0, 0, 0}) // too short for nonce
	assert.Error(t, err)

	_, err = UnmarshalProxyPing([]byte{0, 2, 0, 0, 0, 0, 0, 10}) // length says 10 but no bytes follow
	assert.Error(t, err)

	_, err = PeekType([]byte{0})
	assert.Error(t, err)
}
