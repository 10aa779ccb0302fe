package timeoutqueue

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/backend/internal/clock"
)

func TestEnqueueDequeueExpiredOrder(t *testing.T) {
	c := clock.NewFake()
	q := New(c, 100)

	q.Enqueue("peer-a", 1)
	c.Advance(10)
	q.Enqueue("peer-b", 2)

	_, ok := q.DequeueExpired()
	assert.False(t, ok, "nothing should be expired yet")

	c.Advance(90) // t=100: peer-a (start 0) now expires
	e, ok := q.DequeueExpired()
	require.True(t, ok)
	assert.Equal(t, "peer-a", e.Locator)
	assert.Equal(t, uint64(1), e.Nonce)

	_, ok = q.DequeueExpired()
	assert.False(t, ok, "peer-b (start 10) should not be expired yet at t=100")

	c.Advance(10) // t=110: peer-b (start 10) now expires
	e, ok = q.DequeueExpired()
	require.True(t, ok)
	assert.Equal(t, "peer-b", e.Locator)

	_, ok = q.DequeueExpired()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestDequeueByNonceRemovesOldestMatch(t *testing.T) {
	c := clock.NewFake()
	q := New(c, 1000)

	q.Enqueue("peer-a", 7)
	c.Advance(1)
	q.Enqueue("peer-b", 7) // duplicate nonce, later entry

	e, ok := q.DequeueByNonce(7)
	require.True(t, ok)
	assert.Equal(t, "peer-a", e.Locator, "dequeueByNonce must remove the oldest match")

	// peer-b's entry carries the same nonce and is still queued.
	e, ok = q.DequeueByNonce(7)
	assert.True(t, ok, "second call should find peer-b's entry, the only one remaining")
	assert.Equal(t, "peer-b", e.Locator)

	assert.Equal(t, 0, q.Len())
}

func TestDequeueByNonceUnknown(t *testing.T) {
	c := clock.NewFake()
	q := New(c, 1000)
	q.Enqueue("peer-a", 1)

	_, ok := q.DequeueByNonce(999)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())
}

func TestMicrosUntilNextTimeout(t *testing.T) {
	c := clock.NewFake()
	q := New(c, 50)

	assert.Equal(t, uint64(math.MaxUint64), q.MicrosUntilNextTimeout(), "empty queue returns max")

	q.Enqueue("peer-a", 1)
	assert.Equal(t, uint64(50), q.MicrosUntilNextTimeout())

	c.Advance(20)
	assert.Equal(t, uint64(30), q.MicrosUntilNextTimeout())

	c.Advance(100) // well past the deadline
	assert.Equal(t, uint64(0), q.MicrosUntilNextTimeout(), "must saturate to zero, not wrap")
}

func TestEveryEnqueuedEntryRemovedExactlyOnce(t *testing.T) {
	c := clock.NewFake()
	q := New(c, 10)

	for i := uint64(0); i < 20; i++ {
		q.Enqueue("peer", i)
	}
	c.Advance(1000)

	seen := make(map[uint64]bool)
	for {
		e, ok := q.DequeueExpired()
		if !ok {
			break
		}
		assert.False(t, seen[e.Nonce], "nonce %d dequeued more than once", e.Nonce)
		seen[e.Nonce] = true
	}
	assert.Len(t, seen, 20)
	assert.Equal(t, 0, q.Len())
}
