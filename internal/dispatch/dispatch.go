// Package dispatch implements the "dispatch hop": a multi-producer/
// single-consumer command channel that lets worker goroutines safely
// touch state owned by the single dispatch goroutine (the
// FailureDetector main loop), by submitting a closure and waiting for it
// to run there instead of mutating that state directly.
package dispatch

import "context"

// Queue is the command channel drained at the top of the dispatch
// goroutine's main loop.
type Queue struct {
	commands chan func()
}

// NewQueue returns a Queue with the given command buffer depth.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{commands: make(chan func(), depth)}
}

// Submit hops fn onto the dispatch goroutine and blocks until it has
// run, returning early if ctx is cancelled first (fn may still run later
// in that case; the caller simply stops waiting for it).
func (q *Queue) Submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}

	select {
	case q.commands <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain runs every command currently queued, without blocking for more
// to arrive. Called once per iteration at the top of the dispatch main
// loop, before the next blocking select over the I/O endpoints.
func (q *Queue) Drain() {
	for {
		select {
		case cmd := <-q.commands:
			cmd()
		default:
			return
		}
	}
}
