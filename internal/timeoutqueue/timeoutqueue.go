// Package timeoutqueue implements the failure detector's FIFO of
// outstanding probes, each sharing one configured timeout.
//
// Entries are enqueued in arrival order, so the head of the queue is
// always the earliest-timing-out entry, and dequeueExpired only ever
// needs to inspect the head.
package timeoutqueue

import (
	"container/list"
	"math"

	"github.com/ocx/backend/internal/clock"
)

// TimeoutEntry is one outstanding probe.
type TimeoutEntry struct {
	StartMicros uint64
	Locator     string
	Nonce       uint64
}

// TimeoutQueue is a FIFO of TimeoutEntry values sharing one timeoutMicros.
// Not safe for concurrent use; callers (the single-threaded failure
// detector main loop) serialize access themselves.
type TimeoutQueue struct {
	clock         clock.Clock
	timeoutMicros uint64
	entries       *list.List // of TimeoutEntry
}

// New returns an empty TimeoutQueue with the given shared timeout.
func New(c clock.Clock, timeoutMicros uint64) *TimeoutQueue {
	return &TimeoutQueue{
		clock:         c,
		timeoutMicros: timeoutMicros,
		entries:       list.New(),
	}
}

// Enqueue records the current monotonic time and appends a new entry to
// the tail. O(1).
func (q *TimeoutQueue) Enqueue(locator string, nonce uint64) {
	q.entries.PushBack(TimeoutEntry{
		StartMicros: q.clock.NowMicros(),
		Locator:     locator,
		Nonce:       nonce,
	})
}

// DequeueExpired pops the head entry iff it has timed out as of now.
// Because entries are kept in non-decreasing startMicros order,
// inspecting the head alone is sufficient. Callers should invoke this
// repeatedly until ok is false to drain every expired entry.
func (q *TimeoutQueue) DequeueExpired() (entry TimeoutEntry, ok bool) {
	front := q.entries.Front()
	if front == nil {
		return TimeoutEntry{}, false
	}
	e := front.Value.(TimeoutEntry)
	now := q.clock.NowMicros()
	if e.StartMicros+q.timeoutMicros > now {
		return TimeoutEntry{}, false
	}
	q.entries.Remove(front)
	return e, true
}

// DequeueByNonce scans for and removes the first (oldest) entry matching
// nonce. Returns ok=false if the nonce is unknown (already timed out, or
// never enqueued).
func (q *TimeoutQueue) DequeueByNonce(nonce uint64) (entry TimeoutEntry, ok bool) {
	for el := q.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(TimeoutEntry)
		if e.Nonce == nonce {
			q.entries.Remove(el)
			return e, true
		}
	}
	return TimeoutEntry{}, false
}

// MicrosUntilNextTimeout returns how long until the head entry expires,
// saturating to zero if already expired, or math.MaxUint64 if the queue
// is empty.
func (q *TimeoutQueue) MicrosUntilNextTimeout() uint64 {
	front := q.entries.Front()
	if front == nil {
		return math.MaxUint64
	}
	e := front.Value.(TimeoutEntry)
	now := q.clock.NowMicros()
	deadline := e.StartMicros + q.timeoutMicros
	if deadline <= now {
		return 0
	}
	return deadline - now
}

// Len reports the number of outstanding entries.
func (q *TimeoutQueue) Len() int {
	return q.entries.Len()
}
