package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsOnDrain(t *testing.T) {
	q := NewQueue(4)
	ran := false

	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Submit(context.Background(), func() { ran = true })
	}()

	// Give Submit a moment to enqueue before draining.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran, "command must not run until Drain is called")

	q.Drain()

	require.NoError(t, <-errCh)
	assert.True(t, ran)
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	q := NewQueue(0) // falls back to the default buffered depth; never drained here
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrainRunsAllQueuedCommands(t *testing.T) {
	q := NewQueue(8)
	count := 0
	for i := 0; i < 5; i++ {
		go q.Submit(context.Background(), func() { count++ })
	}
	time.Sleep(20 * time.Millisecond)
	q.Drain()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 5, count)
}
