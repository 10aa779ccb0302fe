// Package preparedops implements the PreparedOps table: the in-memory
// map of active prepared transaction operations keyed by
// (clientLeaseId, rpcId), each holding a watchdog timer that drives
// transaction recovery if a client stalls after PREPARE but before
// DECIDE.
//
// The resolution path is a plain mutex-guarded map delete rather than a
// signaling channel: nothing blocks waiting on a PreparedItem's outcome,
// so each item needs to be resolved exactly once, not observed.
package preparedops

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/backend/internal/errkind"
	"github.com/ocx/backend/internal/logstore"
	"github.com/ocx/backend/internal/metrics"
	"github.com/ocx/backend/internal/objectmanager"
	"github.com/ocx/backend/internal/preparedlog"
)

// TxTimeoutDefault is the nominal watchdog delay, 500 microseconds.
const TxTimeoutDefault = 500 * time.Microsecond

// Key identifies one prepared operation.
type Key struct {
	LeaseID uint64
	RPCID   uint64
}

// RecoveryNotifier is the collaborator the watchdog hands a timed-out
// transaction to. internal/recovery implements this against its worker
// pool; kept as an interface here so preparedops does not import it
// directly (avoiding a dependency cycle and keeping the table testable
// with a fake).
type RecoveryNotifier interface {
	NotifyRecovery(ctx context.Context, leaseID, rpcID uint64, participants []preparedlog.Participant)
}

// EventPublisher receives notable prepared-op events for operator
// observability (internal/adminapi's EventHub implements this).
type EventPublisher interface {
	Notify(eventType, locator, detail string)
}

// eventWatchdogFire matches adminapi.EventWatchdogFire's string value.
const eventWatchdogFire = "watchdog_fire"

// PreparedItem is one table entry.
type PreparedItem struct {
	logRef  logstore.LogRef
	deleted bool
	timer   *time.Timer
}

// PreparedOps is the process-wide table. All operations serialize under
// its mutex; the mutex is never held across LogStore I/O.
type PreparedOps struct {
	mu       sync.Mutex
	items    map[Key]*PreparedItem
	timeout  time.Duration
	log      logstore.LogStore
	recovery RecoveryNotifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   EventPublisher
}

// SetMetrics attaches the Prometheus collectors this table reports to.
// A nil *metrics.Metrics (the default) disables reporting.
func (t *PreparedOps) SetMetrics(m *metrics.Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

// SetEventPublisher attaches the observability feed this table notifies
// when a watchdog fires. A nil EventPublisher (the default) disables
// reporting.
func (t *PreparedOps) SetEventPublisher(p EventPublisher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = p
}

// New constructs an empty table. timeout is the watchdog delay applied
// to every item (TxTimeoutDefault if zero).
func New(log logstore.LogStore, recovery RecoveryNotifier, timeout time.Duration, logger *slog.Logger) *PreparedOps {
	if timeout <= 0 {
		timeout = TxTimeoutDefault
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PreparedOps{
		items:    make(map[Key]*PreparedItem),
		timeout:  timeout,
		log:      log,
		recovery: recovery,
		logger:   logger,
	}
}

// BufferOp inserts (leaseId, rpcId) -> PreparedItem(logRef) and starts its
// watchdog. Fails with errkind.Duplicate if the key already exists and
// inRecovery is false; if inRecovery is true, the existing entry (if any)
// is replaced and its timer restarted, matching recovery's replay of
// prepared-op records from the log.
func (t *PreparedOps) BufferOp(key Key, ref logstore.LogRef, inRecovery bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.items[key]; ok {
		if !inRecovery {
			if t.metrics != nil {
				t.metrics.RecordPreparedOpOutcome("duplicate")
			}
			return fmt.Errorf("preparedops: %w: (%d,%d) already prepared", errkind.Duplicate, key.LeaseID, key.RPCID)
		}
		existing.timer.Stop()
	}

	item := &PreparedItem{logRef: ref}
	item.timer = time.AfterFunc(t.timeout, func() { t.fireWatchdog(key) })
	t.items[key] = item
	if t.metrics != nil {
		t.metrics.SetPreparedOpsActive(len(t.items))
	}
	return nil
}

// PopOp removes and returns the entry's log reference, stopping its
// timer. Returns (logstore.NilLogRef, false) if absent, including when
// the watchdog already claimed and removed the entry first.
func (t *PreparedOps) PopOp(key Key) (logstore.LogRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.items[key]
	if !ok {
		return logstore.NilLogRef, false
	}
	item.timer.Stop()
	delete(t.items, key)
	if t.metrics != nil {
		t.metrics.SetPreparedOpsActive(len(t.items))
		t.metrics.RecordPreparedOpOutcome("popped")
	}
	return item.logRef, true
}

// PeekOp is a read-only lookup; it does not affect the watchdog.
func (t *PreparedOps) PeekOp(key Key) (logstore.LogRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.items[key]
	if !ok {
		return logstore.NilLogRef, false
	}
	return item.logRef, true
}

// UpdatePtr atomically replaces an entry's log reference, used by the
// log cleaner when a record is relocated. The timer is left running and
// untouched: it must survive UpdatePtr.
func (t *PreparedOps) UpdatePtr(key Key, newRef logstore.LogRef) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.items[key]
	if !ok {
		return false
	}
	item.logRef = newRef
	return true
}

// MarkDeleted sets the monotonic deleted flag on an entry (false ->
// true only; calling it again is a no-op). Used to suppress a race where
// a late decision arrives after recovery has already resolved the op.
func (t *PreparedOps) MarkDeleted(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.items[key]
	if !ok {
		return false
	}
	item.deleted = true
	return true
}

// IsDeleted reports the entry's deleted flag. Returns false for an
// absent entry (indistinguishable, by design, from "never deleted").
func (t *PreparedOps) IsDeleted(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	item, ok := t.items[key]
	if !ok {
		return false
	}
	return item.deleted
}

// Len reports the number of active entries, for /preparedops snapshots.
func (t *PreparedOps) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// fireWatchdog is the timer callback. It resolves the "timer vs popOp"
// race by taking the table lock exactly once: whichever of fireWatchdog
// or PopOp observes the entry first under the lock wins, and the other
// observes it already gone. The log read and recovery notification that
// follow a win happen outside the lock.
func (t *PreparedOps) fireWatchdog(key Key) {
	t.mu.Lock()
	item, ok := t.items[key]
	if ok {
		delete(t.items, key)
	}
	m := t.metrics
	events := t.events
	if ok && m != nil {
		m.SetPreparedOpsActive(len(t.items))
	}
	t.mu.Unlock()

	if !ok {
		// popOp (or a prior fire, which cannot happen since time.Timer
		// fires at most once) already resolved this entry.
		return
	}
	if m != nil {
		m.RecordPreparedOpOutcome("watchdog_fired")
	}
	if events != nil {
		events.Notify(eventWatchdogFire, "", fmt.Sprintf("lease=%d rpc=%d", key.LeaseID, key.RPCID))
	}

	t.startRecovery(key, item.logRef)
}

func (t *PreparedOps) startRecovery(key Key, ref logstore.LogRef) {
	ctx := context.Background()
	data, err := t.log.Read(ctx, ref)
	if err != nil {
		t.logger.Error("preparedops: watchdog could not read log record",
			"leaseId", key.LeaseID, "rpcId", key.RPCID, "error", err)
		return
	}
	rec, err := preparedlog.ParseRecord(data)
	if err != nil {
		t.logger.Error("preparedops: watchdog read a malformed log record",
			"leaseId", key.LeaseID, "rpcId", key.RPCID, "error", err)
		return
	}
	if !rec.CheckIntegrity() {
		t.logger.Error("preparedops: watchdog read a log record with bad checksum",
			"leaseId", key.LeaseID, "rpcId", key.RPCID)
		return
	}

	t.logger.Warn("preparedops: watchdog fired, starting transaction recovery",
		"leaseId", key.LeaseID, "rpcId", key.RPCID, "participants", len(rec.Participants))
	t.recovery.NotifyRecovery(ctx, key.LeaseID, key.RPCID, rec.Participants)
}

// RegrabLocksAfterRecovery scans the table and re-asserts every active
// entry's object locks against objMgr. Called once, at master restart,
// after the log replay that repopulated the table via BufferOp(...,
// inRecovery=true).
func (t *PreparedOps) RegrabLocksAfterRecovery(ctx context.Context, objMgr objectmanager.ObjectManager) error {
	t.mu.Lock()
	snapshot := make(map[Key]logstore.LogRef, len(t.items))
	for k, v := range t.items {
		snapshot[k] = v.logRef
	}
	t.mu.Unlock()

	for key, ref := range snapshot {
		data, err := t.log.Read(ctx, ref)
		if err != nil {
			return fmt.Errorf("preparedops: regrab locks: read (%d,%d): %w", key.LeaseID, key.RPCID, err)
		}
		rec, err := preparedlog.ParseRecord(data)
		if err != nil {
			return fmt.Errorf("preparedops: regrab locks: parse (%d,%d): %w", key.LeaseID, key.RPCID, err)
		}
		holder := fmt.Sprintf("%d:%d", key.LeaseID, key.RPCID)
		for _, p := range rec.Participants {
			objKey := objectmanager.Key{TableID: p.TableID, KeyHash: p.KeyHash}
			if err := objMgr.Lock(objKey, holder); err != nil {
				return fmt.Errorf("preparedops: regrab locks: lock %+v for (%d,%d): %w", objKey, key.LeaseID, key.RPCID, err)
			}
		}
	}
	return nil
}
