package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/backend/internal/preparedlog"
)

type fakeContacter struct {
	mu    sync.Mutex
	seen  []Job
	fail  bool
	calls chan struct{}
}

func newFakeContacter() *fakeContacter {
	return &fakeContacter{calls: make(chan struct{}, 64)}
}

func (f *fakeContacter) RequestDecision(_ context.Context, job Job) error {
	f.mu.Lock()
	f.seen = append(f.seen, job)
	fail := f.fail
	f.mu.Unlock()
	f.calls <- struct{}{}
	if fail {
		return assert.AnError
	}
	return nil
}

func TestNotifyRecoveryProcessesEveryParticipant(t *testing.T) {
	contacter := newFakeContacter()
	pool := NewPool(contacter, 2, nil)
	defer pool.Shutdown()

	participants := []preparedlog.Participant{
		{TableID: 1, KeyHash: 10, RPCID: 1},
		{TableID: 1, KeyHash: 20, RPCID: 1},
		{TableID: 2, KeyHash: 30, RPCID: 1},
	}
	pool.NotifyRecovery(context.Background(), 7, 11, participants)

	for i := 0; i < len(participants); i++ {
		select {
		case <-contacter.calls:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for job %d", i)
		}
	}

	contacter.mu.Lock()
	defer contacter.mu.Unlock()
	assert.Len(t, contacter.seen, len(participants))
	for _, job := range contacter.seen {
		assert.Equal(t, uint64(7), job.LeaseID)
		assert.Equal(t, uint64(11), job.RPCID)
	}

	completed, dropped := pool.Stats()
	assert.Equal(t, len(participants), completed)
	assert.Equal(t, 0, dropped)
}

func TestFailedDecisionRequestIsRetried(t *testing.T) {
	contacter := newFakeContacter()
	contacter.fail = true
	pool := NewPool(contacter, 1, nil)
	defer pool.Shutdown()

	pool.NotifyRecovery(context.Background(), 1, 1, []preparedlog.Participant{{TableID: 1, KeyHash: 1, RPCID: 1}})

	// Expect at least 2 attempts (original + one retry) within the window.
	seen := 0
	timeout := time.After(2 * time.Second)
	for seen < 2 {
		select {
		case <-contacter.calls:
			seen++
		case <-timeout:
			t.Fatalf("expected retries, only saw %d calls", seen)
		}
	}
}
