// Package mocknet is a deterministic, single-process stand-in for the real
// datagram transport, grounded in the teacher's in-memory transport and the
// virtual-clock network harness the Hub's design assumes for testing: sends
// queue instead of delivering immediately, and only move to a destination's
// inbound handler on an explicit Transmit call, so a test can set up nodes
// and actors in whatever order it likes without races against delivery.
package mocknet

import (
	"fmt"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/haldane-systems/aetherhub/internal/actor"
	"github.com/haldane-systems/aetherhub/internal/events"
	"github.com/haldane-systems/aetherhub/internal/remoting"
	"github.com/haldane-systems/aetherhub/internal/xerrors"
)

var addrPattern = regexp.MustCompile(`.+:[0-9]+`)

func validateAddr(addr actor.Addr) error {
	if !addrPattern.MatchString(string(addr)) {
		return xerrors.InvalidAddress(string(addr), "must be in <host-or-ip>:<port> form")
	}
	return nil
}

// Clock is a manually-advanced virtual clock satisfying remoting.Clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock builds a Clock starting at start.
func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pendingFrame struct {
	src, dst actor.Addr
	payload  []byte
}

type addrPair [2]actor.Addr

// hubEntry tracks a node's accumulated time since its last heartbeat and
// queue-clean tick, so Simulate can fire them on their configured periods
// instead of on every simulation step -- matching how the original network
// only ever ran a node's own 1-second LoopingCalls against the shared
// virtual clock.
type hubEntry struct {
	hub             *remoting.Hub
	sinceHeartbeat  time.Duration
	sinceQueueClean time.Duration
}

// Network is the mock network itself: a registry of bound sockets, the
// connections established between them, and a queue of frames awaiting the
// next Transmit.
type Network struct {
	mu          sync.Mutex
	clock       *Clock
	listeners   map[actor.Addr]*socket
	connections map[addrPair]bool
	queue       []pendingFrame
	packetLoss  map[addrPair]float64
	rng         *rand.Rand
	hubs        []*hubEntry
}

// New builds an empty network driven by clock.
func New(clock *Clock) *Network {
	return &Network{
		clock:       clock,
		listeners:   make(map[actor.Addr]*socket),
		connections: make(map[addrPair]bool),
		packetLoss:  make(map[addrPair]float64),
		rng:         rand.New(rand.NewSource(1)),
	}
}

// socket is both an OutgoingTransport and an IncomingTransport backed by
// the Network rather than a real wire.
type socket struct {
	net     *Network
	addr    actor.Addr
	handler func(src actor.Addr, payload []byte)
}

func (s *socket) Bind(addr actor.Addr) error {
	return s.net.bind(addr, s)
}

func (s *socket) SetHandler(h func(src actor.Addr, payload []byte)) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.handler = h
}

func (s *socket) AddEndpoint(addr actor.Addr) error {
	return s.net.connect(s.addr, addr)
}

func (s *socket) Send(dst actor.Addr, payload []byte) error {
	return s.net.enqueue(s.addr, dst, payload)
}

func (n *Network) bind(addr actor.Addr, s *socket) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.listeners[addr]; exists {
		return fmt.Errorf("mocknet: address %s already registered on the network", addr)
	}
	s.addr = addr
	n.listeners[addr] = s
	return nil
}

func (n *Network) connect(src, dst actor.Addr) error {
	if err := validateAddr(dst); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	key := addrPair{src, dst}
	if n.connections[key] {
		return fmt.Errorf("mocknet: %s already connected to %s", src, dst)
	}
	n.connections[key] = true
	return nil
}

func (n *Network) enqueue(src, dst actor.Addr, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connections[addrPair{src, dst}] {
		return fmt.Errorf("mocknet: %s sent to %s without connecting first", src, dst)
	}
	n.queue = append(n.queue, pendingFrame{src, dst, payload})
	return nil
}

// PacketLoss drops percent% of frames sent from src to dst on every
// Transmit from now on.
func (n *Network) PacketLoss(percent float64, src, dst actor.Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.packetLoss[addrPair{src, dst}] = percent / 100.0
}

type delivery struct {
	src     actor.Addr
	handler func(actor.Addr, []byte)
	payload []byte
}

// Transmit moves every currently-queued frame to its destination's handler
// in one atomic batch. The queue is cleared before any handler runs, so
// frames a handler enqueues in response (e.g. a PONG reply) wait for the
// next Transmit rather than being delivered within this one.
func (n *Network) Transmit() {
	n.mu.Lock()
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}
	pending := n.queue
	n.queue = nil

	var deliveries []delivery
	for _, f := range pending {
		if loss := n.packetLoss[addrPair{f.src, f.dst}]; loss > 0 && n.rng.Float64() < loss {
			continue
		}
		sock, ok := n.listeners[f.dst]
		if !ok || sock.handler == nil {
			continue
		}
		deliveries = append(deliveries, delivery{f.src, sock.handler, f.payload})
	}
	n.mu.Unlock()

	for _, d := range deliveries {
		d.handler(d.src, d.payload)
	}
}

// tick advances every registered Hub's heartbeat and queue-clean
// accumulators by step, firing either tick once its period is reached. A
// step larger than a period fires it exactly once per call, matching what a
// 1-second LoopingCall does when stepped coarsely.
func (n *Network) tick(step time.Duration) {
	n.mu.Lock()
	entries := make([]*hubEntry, len(n.hubs))
	copy(entries, n.hubs)
	n.mu.Unlock()

	for _, e := range entries {
		e.sinceHeartbeat += step
		if e.sinceHeartbeat >= e.hub.Config.HeartbeatTick {
			e.sinceHeartbeat = 0
			e.hub.HeartbeatTick()
		}
		e.sinceQueueClean += step
		if e.sinceQueueClean >= e.hub.Config.QueueCleanTick {
			e.sinceQueueClean = 0
			e.hub.QueueCleanTick()
		}
	}
}

// Simulate runs Transmit/tick/clock-advance cycles in steps of step until
// duration has elapsed, always running at least one cycle.
func (n *Network) Simulate(duration, step time.Duration) {
	if step <= 0 {
		panic("mocknet: step must be positive")
	}
	timeLeft := duration
	for {
		n.Transmit()
		n.tick(step)
		n.clock.Advance(step)
		if timeLeft <= 0 {
			break
		}
		timeLeft -= step
	}
}

// Node creates a new Hub bound to addr on this network. The Hub's routing
// identity and its mock wire address are the same string, so a test never
// has to maintain a separate name-to-address mapping.
func (n *Network) Node(addr actor.Addr, sink events.Sink) (*remoting.Hub, error) {
	s := &socket{net: n, addr: addr}
	hub, err := remoting.NewHub(addr, s, s, remoting.JSONCodec{}, n.clock, sink, remoting.DefaultConfig())
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.hubs = append(n.hubs, &hubEntry{hub: hub})
	n.mu.Unlock()
	return hub, nil
}
