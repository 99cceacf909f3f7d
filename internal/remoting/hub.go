package remoting

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haldane-systems/aetherhub/internal/actor"
	"github.com/haldane-systems/aetherhub/internal/events"
	"github.com/haldane-systems/aetherhub/internal/xerrors"
)

// PeerState is one of the four states of the per-peer liveness state
// machine.
type PeerState int

const (
	RadioSilence PeerState = iota
	ReverseRadioSilence
	Visible
	SilentlyHoping
)

func (s PeerState) String() string {
	switch s {
	case RadioSilence:
		return "radiosilence"
	case ReverseRadioSilence:
		return "reverse_radiosilence"
	case Visible:
		return "visible"
	case SilentlyHoping:
		return "silentlyhoping"
	default:
		return "unknown"
	}
}

var (
	pingBytes = []byte("ping")
	pongBytes = []byte("pong")
)

type pendingMsg struct {
	path actor.Path
	node actor.Addr
	msg  interface{}
}

type queuedItem struct {
	msg        pendingMsg
	enqueuedAt time.Time
}

// PeerConn is the per-Addr state the Hub holds: its liveness state, the
// last time it was heard from, and its pending-send queue. A nil queue
// (abandoned == true) means queueing has been given up on and further
// sends to this peer go straight to dead-letter.
type PeerConn struct {
	state     PeerState
	lastSeen  time.Time
	queue     []queuedItem
	abandoned bool
}

func (c *PeerConn) State() PeerState { return c.state }
func (c *PeerConn) QueueLen() int    { return len(c.queue) }

// Clock abstracts the time source driving the Hub so that tests can run a
// virtual clock instead of wall time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock implementation.
var RealClock Clock = realClock{}

// Config holds the Hub's tunable timing constants.
type Config struct {
	MaxSilenceBetweenHeartbeats time.Duration
	TimeToKeepHope              time.Duration
	QueueItemLifetime           time.Duration
	HeartbeatTick               time.Duration
	QueueCleanTick              time.Duration
}

// DefaultConfig returns the constants named in the Hub's design: a 5s
// heartbeat timeout, 55s before giving up hope, a 10s queue item
// lifetime, and 1s ticks.
func DefaultConfig() Config {
	return Config{
		MaxSilenceBetweenHeartbeats: 5 * time.Second,
		TimeToKeepHope:              55 * time.Second,
		QueueItemLifetime:           10 * time.Second,
		HeartbeatTick:               time.Second,
		QueueCleanTick:              time.Second,
	}
}

// Hub carries traffic between actors resident on different nodes. The
// wire-transport implementation is supplied via the Incoming/Outgoing
// parameters to NewHub.
type Hub struct {
	Node   actor.Addr
	Config Config
	Clock  Clock
	Codec  Codec
	Sink   events.Sink

	outgoing OutgoingTransport

	mu          sync.Mutex
	registry    map[actor.Path]actor.Target
	connections map[actor.Addr]*PeerConn
}

// NewHub wires a Hub to its incoming/outgoing transports, binding the
// incoming transport to node and installing GotMessage as its handler.
func NewHub(node actor.Addr, incoming IncomingTransport, outgoing OutgoingTransport, codec Codec, clock Clock, sink events.Sink, cfg Config) (*Hub, error) {
	if node == "" {
		return nil, fmt.Errorf("remoting: node address must not be empty")
	}
	h := &Hub{
		Node:        node,
		Config:      cfg,
		Clock:       clock,
		Codec:       codec,
		Sink:        sink,
		outgoing:    outgoing,
		registry:    make(map[actor.Path]actor.Target),
		connections: make(map[actor.Addr]*PeerConn),
	}
	incoming.SetHandler(h.GotMessage)
	if err := incoming.Bind(node); err != nil {
		return nil, fmt.Errorf("remoting: bind incoming transport to %s: %w", node, err)
	}
	return h, nil
}

// Register records actor.path -> target in the registry, so remote
// messages addressed to that path can find it. Duplicate registration
// replaces the prior entry.
func (h *Hub) Register(path actor.Path, target actor.Target) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registry[path] = target
}

// Unregister removes a path from the registry, e.g. once its actor has
// stopped.
func (h *Hub) Unregister(path actor.Path) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.registry, path)
}

// MakeProxy constructs a RemoteProxy bound to this Hub.
func (h *Hub) MakeProxy(path actor.Path, node actor.Addr) *RemoteProxy {
	return &RemoteProxy{Path: path, Node: node, hub: h}
}

// ResolveRef implements RefResolver: a decoded Ref whose node names this
// Hub and whose path is locally registered resolves to that local actor;
// everything else becomes a RemoteProxy.
func (h *Hub) ResolveRef(path actor.Path, node actor.Addr) actor.Target {
	if node == "" || node == h.Node {
		h.mu.Lock()
		target, ok := h.registry[path]
		h.mu.Unlock()
		if ok {
			return target
		}
	}
	return h.MakeProxy(path, node)
}

// PeerState returns the current state of a known peer, and whether it is
// known at all.
func (h *Hub) PeerState(addr actor.Addr) (PeerState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.connections[addr]
	if !ok {
		return 0, false
	}
	return conn.state, true
}

// PeerQueueLen reports the pending-send queue depth for a known peer.
func (h *Hub) PeerQueueLen(addr actor.Addr) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.connections[addr]
	if !ok {
		return 0
	}
	return len(conn.queue)
}

// SendMessage is the top-level outbound operation, called from
// RemoteProxy.Send. It creates the peer's connection state on first use,
// transmits immediately when the peer is visible, queues otherwise, or
// dead-letters if the peer's queue has already been abandoned.
func (h *Hub) SendMessage(path actor.Path, node actor.Addr, msg interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, known := h.connections[node]
	if !known {
		conn = &PeerConn{
			state: RadioSilence,
			// So last_seen checks mark the peer silentlyhoping after
			// time_to_keep_hope of continued silence from right now.
			lastSeen: h.Clock.Now().Add(-h.Config.MaxSilenceBetweenHeartbeats),
		}
		h.connections[node] = conn
		h.connectLocked(node, conn)
	}

	switch {
	case conn.state == Visible:
		h.transmitPayloadLocked(node, path, msg)
	case conn.abandoned:
		h.deadLetterLocked(path, node, msg, "peer queue abandoned")
	default:
		conn.queue = append(conn.queue, queuedItem{pendingMsg{path, node, msg}, h.Clock.Now()})
	}
}

// GotMessage is the inbound callback installed on the incoming transport.
// It is the single entry point for both heartbeat signals and payload
// frames from a peer.
func (h *Hub) GotMessage(src actor.Addr, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	isPing := bytes.Equal(data, pingBytes)
	isPong := bytes.Equal(data, pongBytes)

	if !isPing && !isPong {
		h.deliverPayloadLocked(src, data)
	}

	conn, known := h.connections[src]
	if !known {
		if !isPing {
			h.Sink.LogProtocolViolation(events.ProtocolViolation{SenderAddr: src, Payload: data})
			// Resolved open question: tolerate a non-PING first inbound as
			// an implicit PING for peer bookkeeping; the payload above was
			// still delivered normally.
		}
		conn = &PeerConn{state: ReverseRadioSilence, lastSeen: h.Clock.Now()}
		h.connections[src] = conn
		h.connectLocked(src, conn)
		return
	}

	conn.lastSeen = h.Clock.Now()
	prevState := conn.state
	if isPing {
		conn.state = ReverseRadioSilence
	} else {
		conn.state = Visible
	}
	if prevState != Visible && conn.state == Visible {
		h.flushQueueLocked(src, conn)
	}
}

// lockedResolver is the RefResolver handed to Codec.Decode from inside
// GotMessage, where h.mu is already held; it reads the registry without
// taking the lock again.
type lockedResolver struct{ h *Hub }

func (r lockedResolver) ResolveRef(path actor.Path, node actor.Addr) actor.Target {
	if node == "" || node == r.h.Node {
		if target, ok := r.h.registry[path]; ok {
			return target
		}
	}
	return r.h.MakeProxy(path, node)
}

func (h *Hub) deliverPayloadLocked(src actor.Addr, data []byte) {
	path, msg, err := h.Codec.Decode(data, lockedResolver{h})
	if err != nil {
		h.Sink.LogDecodeFailure(events.DecodeFailure{SenderAddr: src, Err: xerrors.MalformedFrame(string(src), err.Error())})
		return
	}
	target, ok := h.registry[path]
	if !ok {
		h.deadLetterLocked(path, "", msg, "unregistered path")
		return
	}
	_ = target.Send(msg)
}

// connectLocked adds an outgoing endpoint for addr and sends the first
// heartbeat: PING if we initiated (radiosilence), PONG if the peer
// initiated (reverse_radiosilence) -- a single codepath shared by both the
// first-outbound-send and first-inbound-message paths.
func (h *Hub) connectLocked(addr actor.Addr, conn *PeerConn) {
	if err := h.outgoing.AddEndpoint(addr); err != nil {
		h.Sink.Warnf("remoting: failed to add outgoing endpoint for %s: %v", addr, err)
	}
	if conn.state == RadioSilence {
		h.heartbeatOneLocked(addr, pingBytes)
	} else {
		h.heartbeatOneLocked(addr, pongBytes)
	}
}

func (h *Hub) flushQueueLocked(addr actor.Addr, conn *PeerConn) {
	for _, item := range conn.queue {
		h.transmitPayloadLocked(addr, item.msg.path, item.msg.msg)
	}
	conn.queue = nil
}

func (h *Hub) transmitPayloadLocked(dst actor.Addr, path actor.Path, msg interface{}) {
	data, err := h.Codec.Encode(path, msg)
	if err != nil {
		h.Sink.Warnf("remoting: failed to encode outbound message to %s%s: %v", dst, path, err)
		return
	}
	if err := h.outgoing.Send(dst, data); err != nil {
		h.Sink.Warnf("remoting: transport send to %s failed: %v", dst, err)
	}
}

func (h *Hub) heartbeatOneLocked(addr actor.Addr, signal []byte) {
	if err := h.outgoing.Send(addr, signal); err != nil {
		h.Sink.Warnf("remoting: heartbeat send to %s failed: %v", addr, err)
	}
}

func (h *Hub) deadLetterLocked(path actor.Path, node actor.Addr, msg interface{}, reason string) {
	h.Sink.LogDeadLetter(events.DeadLetter{Ref: &actor.Ref{Path: path, Node: node}, Message: msg, Reason: reason})
}

// HeartbeatTick drives the per-second peer liveness state machine: it may
// transition peers to radiosilence or silentlyhoping, discard abandoned
// queues into dead letters, and sends the appropriate heartbeat signal to
// every known peer.
func (h *Hub) HeartbeatTick() {
	defer h.recoverTick("heartbeat")
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.Clock.Now()
	considerDeadFrom := now.Add(-h.Config.MaxSilenceBetweenHeartbeats)
	considerLostFrom := considerDeadFrom.Add(-h.Config.TimeToKeepHope)

	for addr, conn := range h.connections {
		switch {
		case conn.state == SilentlyHoping:
			h.heartbeatOneLocked(addr, pingBytes)
		case conn.lastSeen.Before(considerLostFrom):
			conn.state = SilentlyHoping
			for _, item := range conn.queue {
				h.deadLetterLocked(item.msg.path, item.msg.node, item.msg.msg, "peer declared silentlyhoping")
			}
			conn.queue = nil
			conn.abandoned = true
			h.heartbeatOneLocked(addr, pingBytes)
		case conn.lastSeen.Before(considerDeadFrom):
			conn.state = RadioSilence
			h.heartbeatOneLocked(addr, pingBytes)
		default:
			h.heartbeatOneLocked(addr, pongBytes)
		}
	}
}

// QueueCleanTick ages out any queued item older than QueueItemLifetime,
// emitting a DeadLetter for each. Items are appended with monotonically
// non-decreasing timestamps, so stopping at the first kept item is
// correct.
func (h *Hub) QueueCleanTick() {
	defer h.recoverTick("queue_clean")
	h.mu.Lock()
	defer h.mu.Unlock()

	keepUntil := h.Clock.Now().Add(-h.Config.QueueItemLifetime)
	for _, conn := range h.connections {
		if conn.abandoned {
			continue
		}
		i := 0
		for i < len(conn.queue) && conn.queue[i].enqueuedAt.Before(keepUntil) {
			item := conn.queue[i]
			h.deadLetterLocked(item.msg.path, item.msg.node, item.msg.msg, "queue item aged out")
			i++
		}
		if i > 0 {
			conn.queue = conn.queue[i:]
		}
	}
}

func (h *Hub) recoverTick(name string) {
	if r := recover(); r != nil {
		h.Sink.LogHeartbeatTickFailure(events.HeartbeatTickFailure{Tick: name, Err: fmt.Errorf("panic: %v", r)})
	}
}

// Run drives HeartbeatTick and QueueCleanTick on their configured periods
// until ctx is cancelled. Production callers use this; deterministic tests
// drive the ticks directly (or via the mock network's simulate loop).
func (h *Hub) Run(ctx context.Context) {
	hb := time.NewTicker(h.Config.HeartbeatTick)
	qc := time.NewTicker(h.Config.QueueCleanTick)
	defer hb.Stop()
	defer qc.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-hb.C:
			h.HeartbeatTick()
		case <-qc.C:
			h.QueueCleanTick()
		}
	}
}
