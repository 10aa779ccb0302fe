// Package failuredetector implements the peer-to-peer UDP probing
// protocol: a timeout queue, coordinator notification on timeout, and
// coordinator-initiated proxy probes.
//
// One goroutine per netio.Endpoint fans received datagrams into a
// single channel, consumed by one dispatch goroutine that is the sole
// owner of FailureDetector state; no other goroutine touches it
// directly.
package failuredetector

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ocx/backend/internal/clock"
	"github.com/ocx/backend/internal/dispatch"
	"github.com/ocx/backend/internal/errkind"
	"github.com/ocx/backend/internal/locator"
	"github.com/ocx/backend/internal/metrics"
	"github.com/ocx/backend/internal/netio"
	"github.com/ocx/backend/internal/rng"
	"github.com/ocx/backend/internal/serverlist"
	"github.com/ocx/backend/internal/timeoutqueue"
	"github.com/ocx/backend/internal/wire"
)

// CoordProbeFlag is bit 63 of the nonce: set means coordinator-initiated
// proxy probe, clear means self-initiated random probe.
const CoordProbeFlag uint64 = 0x8000000000000000

// EventPublisher receives notable failure-detector events for operator
// observability (internal/adminapi's EventHub implements this). Kept as
// a narrow interface here so failuredetector does not import adminapi.
type EventPublisher interface {
	Notify(eventType, locator, detail string)
}

// eventServerDown matches adminapi.EventServerDown's string value. Kept
// as a local constant rather than an import to avoid a dependency cycle
// (adminapi already depends on preparedops and recovery).
const eventServerDown = "server_down"

// Config parameterizes a FailureDetector.
type Config struct {
	SelfLocator        string
	ListenLocator      string // whose derived port this detector binds to; may equal SelfLocator
	CoordinatorLocator string
	LocatorPreference  []string
	ProbeInterval      time.Duration
	Timeout            time.Duration
	MaxDatagramBytes   int
}

const defaultMaxDatagramBytes = 1500

// FailureDetector owns the three datagram endpoints and runs the probe
// loop.
type FailureDetector struct {
	cfg Config

	clientEp netio.Endpoint
	serverEp netio.Endpoint
	coordEp  netio.Endpoint
	coordAddr *net.UDPAddr

	clock clock.Clock
	rng   rng.Rng
	queue *timeoutqueue.TimeoutQueue

	dispatchQueue *dispatch.Queue
	logger        *slog.Logger
	metrics       *metrics.Metrics
	events        EventPublisher

	mu              sync.Mutex
	serverListState serverlist.List
	warnedEmptyList bool

	lastPingMicros uint64

	packets chan receivedPacket
}

type endpointKind int

const (
	epClient endpointKind = iota
	epServer
	epCoord
)

type receivedPacket struct {
	endpoint endpointKind
	from     *net.UDPAddr
	data     []byte
}

// New binds all three endpoints (derived from cfg.ListenLocator plus
// fixed sub-offsets so they don't collide) and constructs a
// FailureDetector. Bind failure is Fatal and is returned directly to
// the caller to propagate to process start-up.
func New(cfg Config, network netio.Net, c clock.Clock, r rng.Rng, logger *slog.Logger) (*FailureDetector, error) {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 100 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.MaxDatagramBytes <= 0 {
		cfg.MaxDatagramBytes = defaultMaxDatagramBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseAddr, err := locator.FailureDetectorAddr(cfg.ListenLocator, cfg.LocatorPreference)
	if err != nil {
		return nil, errkind.WrapFatal("failuredetector: derive listen address", err)
	}

	clientAddr := &net.UDPAddr{IP: baseAddr.IP, Port: baseAddr.Port}
	serverAddr := &net.UDPAddr{IP: baseAddr.IP, Port: baseAddr.Port + 1}
	coordAddrLocal := &net.UDPAddr{IP: baseAddr.IP, Port: baseAddr.Port + 2}

	clientEp, err := network.Listen(clientAddr)
	if err != nil {
		return nil, errkind.WrapFatal("failuredetector: bind clientEp", err)
	}
	serverEp, err := network.Listen(serverAddr)
	if err != nil {
		clientEp.Close()
		return nil, errkind.WrapFatal("failuredetector: bind serverEp", err)
	}
	coordEp, err := network.Listen(coordAddrLocal)
	if err != nil {
		clientEp.Close()
		serverEp.Close()
		return nil, errkind.WrapFatal("failuredetector: bind coordEp", err)
	}

	coordAddr, err := locator.FailureDetectorAddr(cfg.CoordinatorLocator, cfg.LocatorPreference)
	if err != nil {
		clientEp.Close()
		serverEp.Close()
		coordEp.Close()
		return nil, errkind.WrapFatal("failuredetector: derive coordinator address", err)
	}

	fd := &FailureDetector{
		cfg:           cfg,
		clientEp:      clientEp,
		serverEp:      serverEp,
		coordEp:       coordEp,
		coordAddr:     coordAddr,
		clock:         c,
		rng:           r,
		queue:         timeoutqueue.New(c, uint64(cfg.Timeout.Microseconds())),
		dispatchQueue: dispatch.NewQueue(64),
		logger:        logger,
		packets:       make(chan receivedPacket, 256),
	}
	return fd, nil
}

// SetMetrics attaches the Prometheus collectors this detector reports
// to. A nil *metrics.Metrics (the default) disables reporting.
func (fd *FailureDetector) SetMetrics(m *metrics.Metrics) {
	fd.metrics = m
}

// SetEventPublisher attaches the observability feed this detector
// notifies when a self-initiated probe times out. A nil EventPublisher (the default)
// disables reporting.
func (fd *FailureDetector) SetEventPublisher(p EventPublisher) {
	fd.events = p
}

// SetServerList replaces the in-memory server list, e.g. after a
// GET_SERVER_LIST round-trip completes.
func (fd *FailureDetector) SetServerList(l serverlist.List) {
	fd.mu.Lock()
	fd.serverListState = l
	fd.mu.Unlock()
	if fd.metrics != nil {
		fd.metrics.SetServerListSize(len(l.Entries))
	}
}

// ServerList returns the current in-memory server list.
func (fd *FailureDetector) ServerList() serverlist.List {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.serverListState
}

// Submit hops fn onto the dispatch goroutine, for callers (worker RPC
// handlers) that need to touch FailureDetector-owned state safely.
func (fd *FailureDetector) Submit(ctx context.Context, fn func()) error {
	return fd.dispatchQueue.Submit(ctx, fn)
}

// Run executes the main loop until ctx is cancelled. It owns clientEp,
// serverEp, coordEp, and the timeout queue for its entire lifetime; no
// other goroutine touches them directly. The server list is the
// exception: ServerList and SetServerList guard it with a mutex and may
// be called from any goroutine.
func (fd *FailureDetector) Run(ctx context.Context) {
	go fd.readLoop(epClient, fd.clientEp)
	go fd.readLoop(epServer, fd.serverEp)
	go fd.readLoop(epCoord, fd.coordEp)

	for {
		fd.dispatchQueue.Drain()

		select {
		case <-ctx.Done():
			fd.shutdown()
			return
		default:
		}

		now := fd.clock.NowMicros()
		probeIntervalMicros := uint64(fd.cfg.ProbeInterval.Microseconds())
		if now >= fd.lastPingMicros+probeIntervalMicros {
			fd.pingRandomPeer()
			fd.lastPingMicros = now
		}

		timeUntilNextPing := time.Duration(0)
		if fd.lastPingMicros+probeIntervalMicros > now {
			timeUntilNextPing = time.Duration(fd.lastPingMicros+probeIntervalMicros-now) * time.Microsecond
		}
		untilTimeout := fd.queue.MicrosUntilNextTimeout()
		sleepFor := timeUntilNextPing
		if untilTimeout != ^uint64(0) {
			untilTimeoutDur := time.Duration(untilTimeout) * time.Microsecond
			if untilTimeoutDur < sleepFor || sleepFor == 0 {
				sleepFor = untilTimeoutDur
			}
		}
		if sleepFor <= 0 {
			sleepFor = time.Millisecond
		}

		select {
		case <-ctx.Done():
			fd.shutdown()
			return
		case pkt := <-fd.packets:
			fd.handlePacket(pkt)
		case <-time.After(sleepFor):
		}

		fd.drainExpired()
	}
}

func (fd *FailureDetector) shutdown() {
	fd.clientEp.Close()
	fd.serverEp.Close()
	fd.coordEp.Close()
}

func (fd *FailureDetector) readLoop(kind endpointKind, ep netio.Endpoint) {
	buf := make([]byte, fd.cfg.MaxDatagramBytes)
	for {
		n, from, err := ep.ReadFrom(buf)
		if err != nil {
			return // endpoint closed; Run's shutdown already in progress
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case fd.packets <- receivedPacket{endpoint: kind, from: from, data: data}:
		default:
			fd.logger.Warn("failuredetector: packet channel full, dropping datagram")
		}
	}
}

func (fd *FailureDetector) pingRandomPeer() {
	list := fd.ServerList()
	target, ok := fd.pickRandomPeer(list)
	if !ok {
		if !fd.warnedEmptyList {
			fd.logger.Info("failuredetector: no peers to probe besides self, skipping")
			fd.warnedEmptyList = true
		}
		return
	}
	fd.warnedEmptyList = false

	addr, err := locator.FailureDetectorAddr(target, fd.cfg.LocatorPreference)
	if err != nil {
		fd.logger.Warn("failuredetector: could not resolve peer locator", "locator", target, "error", err)
		return
	}
	// Probe requests go to the peer's serverEp, one port above its base.
	peerServerAddr := &net.UDPAddr{IP: addr.IP, Port: addr.Port + 1}

	nonce := fd.rng.Uint64() &^ CoordProbeFlag
	if err := fd.clientEp.SendTo(peerServerAddr, wire.NewPingRequest(nonce).Marshal()); err != nil {
		fd.logger.Warn("failuredetector: ping send failed", "locator", target, "error", err)
		return
	}
	fd.queue.Enqueue(target, nonce)
	if fd.metrics != nil {
		fd.metrics.RecordProbeSent()
	}
}

// pickRandomPeer leaves the local locator out and picks uniformly among
// the remaining entries. Returns ok=false if the list is empty or
// contains only self.
func (fd *FailureDetector) pickRandomPeer(list serverlist.List) (string, bool) {
	candidates := make([]string, 0, len(list.Entries))
	for _, e := range list.Entries {
		if e.Locator != fd.cfg.SelfLocator {
			candidates = append(candidates, e.Locator)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	idx := fd.rng.Intn(len(candidates))
	return candidates[idx], true
}

func (fd *FailureDetector) handlePacket(pkt receivedPacket) {
	switch pkt.endpoint {
	case epServer:
		fd.handleServerPacket(pkt)
	case epClient:
		fd.handleClientPacket(pkt)
	case epCoord:
		fd.handleCoordPacket(pkt)
	}
}

// handleServerPacket handles datagrams addressed to serverEp: PING
// requests from peers (echoed immediately) and PROXY_PING requests from
// the coordinator (trigger a new outgoing PING, no synchronous reply).
func (fd *FailureDetector) handleServerPacket(pkt receivedPacket) {
	typ, err := wire.PeekType(pkt.data)
	if err != nil {
		fd.logger.Warn("failuredetector: malformed datagram on serverEp", "error", err)
		return
	}

	switch typ {
	case wire.MsgPing:
		req, err := wire.UnmarshalPing(pkt.data)
		if err != nil {
			fd.logger.Warn("failuredetector: malformed PING on serverEp", "error", err)
			return
		}
		if err := fd.serverEp.SendTo(pkt.from, wire.NewPingResponse(req.Nonce).Marshal()); err != nil {
			fd.logger.Warn("failuredetector: ping echo send failed", "to", pkt.from, "error", err)
		}

	case wire.MsgProxyPing:
		req, err := wire.UnmarshalProxyPing(pkt.data)
		if err != nil {
			fd.logger.Warn("failuredetector: malformed PROXY_PING on serverEp", "error", err)
			return
		}
		addr, err := locator.FailureDetectorAddr(req.Locator, fd.cfg.LocatorPreference)
		if err != nil {
			fd.logger.Warn("failuredetector: could not resolve proxy-ping target", "locator", req.Locator, "error", err)
			return
		}
		targetServerAddr := &net.UDPAddr{IP: addr.IP, Port: addr.Port + 1}
		nonce := fd.rng.Uint64() | CoordProbeFlag
		if err := fd.clientEp.SendTo(targetServerAddr, wire.NewPingRequest(nonce).Marshal()); err != nil {
			fd.logger.Warn("failuredetector: proxy ping send failed", "locator", req.Locator, "error", err)
			return
		}
		fd.queue.Enqueue(req.Locator, nonce)

	default:
		fd.logger.Warn("failuredetector: unexpected message type on serverEp", "type", typ)
	}
}

// handleClientPacket handles datagrams addressed to clientEp: PING
// responses, whether to a self-initiated or coordinator-proxied probe.
func (fd *FailureDetector) handleClientPacket(pkt receivedPacket) {
	resp, err := wire.UnmarshalPing(pkt.data)
	if err != nil {
		fd.logger.Warn("failuredetector: malformed response on clientEp", "error", err)
		return
	}

	entry, ok := fd.queue.DequeueByNonce(resp.Nonce)
	if !ok {
		// Unknown or already-timed-out nonce; the second of a duplicate
		// response is silently ignored.
		return
	}

	if fd.metrics != nil {
		fd.metrics.RecordProbeAnswered()
	}

	if resp.Nonce&CoordProbeFlag != 0 {
		elapsedMicros := fd.clock.NowMicros() - entry.StartMicros
		replyNanos := elapsedMicros * 1000
		if err := fd.coordEp.SendTo(fd.coordAddr, wire.NewProxyPingResponse(replyNanos).Marshal()); err != nil {
			fd.logger.Warn("failuredetector: proxy ping response send failed", "error", err)
		}
	}
}

// handleCoordPacket handles datagrams addressed to coordEp: currently
// only GET_SERVER_LIST replies.
func (fd *FailureDetector) handleCoordPacket(pkt receivedPacket) {
	l, err := serverlist.Decode(pkt.data)
	if err != nil {
		fd.logger.Warn("failuredetector: malformed server list reply", "error", err)
		return
	}
	fd.SetServerList(l)
}

// RequestServerList sends a GET_SERVER_LIST request to the coordinator.
func (fd *FailureDetector) RequestServerList(serverType uint32) error {
	req := wire.NewGetServerListRequest(serverType)
	return fd.coordEp.SendTo(fd.coordAddr, req.Marshal())
}

func (fd *FailureDetector) drainExpired() {
	for {
		entry, ok := fd.queue.DequeueExpired()
		if !ok {
			return
		}
		if entry.Nonce&CoordProbeFlag != 0 {
			if fd.metrics != nil {
				fd.metrics.RecordProbeTimedOut("proxy")
			}
			if err := fd.coordEp.SendTo(fd.coordAddr, wire.NewProxyPingResponse(wire.UnreachableNanos).Marshal()); err != nil {
				fd.logger.Warn("failuredetector: unreachable proxy ping response send failed", "error", err)
			}
			continue
		}
		if fd.metrics != nil {
			fd.metrics.RecordProbeTimedOut("self")
		}
		if fd.events != nil {
			fd.events.Notify(eventServerDown, entry.Locator, "probe timed out")
		}
		hint := wire.NewHintServerDown(entry.Locator)
		if err := fd.coordEp.SendTo(fd.coordAddr, hint.Marshal()); err != nil {
			fd.logger.Warn("failuredetector: hint server down send failed", "locator", entry.Locator, "error", err)
		}
	}
}
