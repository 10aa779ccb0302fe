// Package recovery fans transaction-recovery notifications out to a
// bounded worker pool: when a PreparedOps watchdog fires, the table
// hands the stalled operation's participant list to Pool.NotifyRecovery,
// which queues one recovery job per participant and lets background
// workers drive the per-participant decide-the-outcome exchange.
//
// A bounded channel feeds a fixed worker pool; enqueue is non-blocking
// and drops and logs on a full queue rather than blocking the caller
// (here, the PreparedOps watchdog callback, which must not stall other
// watchdogs behind it).
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/backend/internal/metrics"
	"github.com/ocx/backend/internal/preparedlog"
)

// EventPublisher receives notable recovery events for operator
// observability (internal/adminapi's EventHub implements this).
type EventPublisher interface {
	Notify(eventType, locator, detail string)
}

// eventRecoveryDone matches adminapi.EventRecoveryDone's string value.
const eventRecoveryDone = "recovery_done"

// Job is one participant's share of recovering a stalled transaction.
type Job struct {
	LeaseID     uint64
	RPCID       uint64
	Participant preparedlog.Participant
	Attempt     int
}

// ParticipantContacter is how a recovery worker reaches a participant to
// drive the decide-the-outcome exchange. The concrete implementation
// talks to the participant master's RPC surface; Non-goals exclude that
// transport, so it is left as a narrow injected interface here.
type ParticipantContacter interface {
	RequestDecision(ctx context.Context, job Job) error
}

// Pool is a bounded worker pool that processes recovery jobs.
type Pool struct {
	queue     chan Job
	workers   int
	wg        sync.WaitGroup
	contacter ParticipantContacter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	events    EventPublisher

	mu        sync.Mutex
	completed int
	dropped   int
}

// SetMetrics attaches the Prometheus collectors this pool reports to. A
// nil *metrics.Metrics (the default) disables reporting.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// SetEventPublisher attaches the observability feed this pool notifies
// when a recovery job completes. A nil EventPublisher (the default)
// disables reporting.
func (p *Pool) SetEventPublisher(ep EventPublisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = ep
}

func (p *Pool) reportInFlight() {
	p.mu.Lock()
	m := p.metrics
	p.mu.Unlock()
	if m != nil {
		m.SetRecoveriesInFlight(len(p.queue))
	}
}

// NewPool starts a Pool with the given worker count (4 if workers <= 0)
// and a queue depth of 1000.
func NewPool(contacter ParticipantContacter, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:     make(chan Job, 1000),
		workers:   workers,
		contacter: contacter,
		logger:    logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// NotifyRecovery implements preparedops.RecoveryNotifier: it enqueues one
// Job per participant, dropping (and logging) jobs that would block on a
// full queue rather than stalling the PreparedOps watchdog callback that
// called it.
func (p *Pool) NotifyRecovery(ctx context.Context, leaseID, rpcID uint64, participants []preparedlog.Participant) {
	for _, participant := range participants {
		job := Job{LeaseID: leaseID, RPCID: rpcID, Participant: participant, Attempt: 1}
		select {
		case p.queue <- job:
			p.reportInFlight()
		default:
			p.mu.Lock()
			p.dropped++
			m := p.metrics
			p.mu.Unlock()
			if m != nil {
				m.RecordRecoveryAttempt("dropped")
			}
			p.logger.Warn("recovery: queue full, dropping job",
				"leaseId", leaseID, "rpcId", rpcID, "participantTable", participant.TableID, "participantKeyHash", participant.KeyHash)
		}
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.process(job)
	}
}

func (p *Pool) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()

	if err := p.contacter.RequestDecision(ctx, job); err != nil {
		p.logger.Error("recovery: participant decision request failed",
			"leaseId", job.LeaseID, "rpcId", job.RPCID, "attempt", job.Attempt, "error", err)

		p.mu.Lock()
		m := p.metrics
		p.mu.Unlock()
		if m != nil {
			m.RecordRecoveryAttempt("failed")
		}

		if job.Attempt < 3 {
			job.Attempt++
			select {
			case p.queue <- job:
				p.reportInFlight()
			default:
			}
		}
		return
	}

	p.mu.Lock()
	p.completed++
	m := p.metrics
	events := p.events
	p.mu.Unlock()
	if m != nil {
		m.RecordRecoveryAttempt("ok")
		m.ObserveRecoveryDuration(time.Since(start))
	}
	if events != nil {
		events.Notify(eventRecoveryDone, "", fmt.Sprintf("lease=%d rpc=%d", job.LeaseID, job.RPCID))
	}
	p.reportInFlight()
}

// Stats reports completed and dropped job counts, for the admin API's
// /recovery/stats route.
func (p *Pool) Stats() (completed, dropped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed, p.dropped
}

// Shutdown drains and stops the worker pool.
func (p *Pool) Shutdown() {
	close(p.queue)
	p.wg.Wait()
}
