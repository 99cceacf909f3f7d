package remoting

import (
	"sync"
	"testing"
	"time"

	"github.com/haldane-systems/aetherhub/internal/actor"
	"github.com/haldane-systems/aetherhub/internal/events"
)

// fakeClock is a manually-advanced Clock for deterministic Hub tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// wireTransport is a direct point-to-point test double implementing both
// OutgoingTransport and IncomingTransport, bypassing any network
// simulation so Hub's own state machine can be tested in isolation.
type wireTransport struct {
	mu       sync.Mutex
	handler  func(src actor.Addr, payload []byte)
	peers    map[actor.Addr]*wireTransport
	self     actor.Addr
	sent     []sentFrame
	connected map[actor.Addr]bool
}

type sentFrame struct {
	Dst     actor.Addr
	Payload []byte
}

func newWireTransport() *wireTransport {
	return &wireTransport{peers: make(map[actor.Addr]*wireTransport), connected: make(map[actor.Addr]bool)}
}

func link(a, b *wireTransport) {
	a.peers[b.self] = b
	b.peers[a.self] = a
}

func (t *wireTransport) Bind(addr actor.Addr) error {
	t.self = addr
	return nil
}

func (t *wireTransport) SetHandler(h func(src actor.Addr, payload []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *wireTransport) AddEndpoint(addr actor.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected[addr] = true
	return nil
}

// Send hands payload to the peer asynchronously, on its own goroutine --
// exactly like the real QUIC transport (which delivers via a background
// reader) and the mock network (which only delivers on an explicit
// transmit()). A synchronous callback here would let an inbound handshake
// frame reenter the sending Hub's own (non-reentrant) critical section.
func (t *wireTransport) Send(dst actor.Addr, payload []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, sentFrame{dst, payload})
	peer := t.peers[dst]
	t.mu.Unlock()
	if peer != nil {
		go func() {
			peer.mu.Lock()
			h := peer.handler
			peer.mu.Unlock()
			if h != nil {
				h(t.self, payload)
			}
		}()
	}
	return nil
}

func newTestHub(t *testing.T, node actor.Addr, clock Clock, sink events.Sink) (*Hub, *wireTransport) {
	t.Helper()
	wt := newWireTransport()
	hub, err := NewHub(node, wt, wt, JSONCodec{}, clock, sink, DefaultConfig())
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return hub, wt
}

// recordingTarget captures every message sent to it, standing in for a
// registered local actor without depending on the actor package's
// goroutine-driven lifecycle.
type recordingTarget struct {
	mu   sync.Mutex
	msgs []interface{}
}

func (r *recordingTarget) Send(msg interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingTarget) snapshot() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interface{}, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// waitUntil polls cond until it is true or the deadline elapses, failing
// the test otherwise. Hub<->Hub delivery in these tests happens on
// background goroutines (see wireTransport.Send), so assertions about the
// resulting state must wait rather than check immediately.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestHubRoundTripWhenVisible(t *testing.T) {
	clock := newFakeClock()
	sink := events.NewRecordingSink()

	hubA, wtA := newTestHub(t, "127.0.0.1:11001", clock, sink)
	hubB, wtB := newTestHub(t, "127.0.0.1:11002", clock, sink)
	link(wtA, wtB)

	target := &recordingTarget{}
	hubB.Register("/actor", target)

	hubA.SendMessage("/actor", hubB.Node, "hello")

	// The initial PING/PONG exchange settles asynchronously; once it does,
	// A should see B visible with its queue flushed and B's actor should
	// have received the message.
	waitUntil(t, func() bool {
		st, _ := hubA.PeerState(hubB.Node)
		return st == Visible && hubA.PeerQueueLen(hubB.Node) == 0
	})
	waitUntil(t, func() bool { return len(target.snapshot()) == 1 })

	msgs := target.snapshot()
	if msgs[0] != "hello" {
		t.Fatalf("expected B's actor to receive \"hello\", got %v", msgs)
	}
	if stB, _ := hubB.PeerState(hubA.Node); stB != Visible {
		t.Fatalf("expected B to see A visible too, got %v", stB)
	}
}

func TestHubUnregisteredPathDeadLetters(t *testing.T) {
	clock := newFakeClock()
	sink := events.NewRecordingSink()
	hubA, wtA := newTestHub(t, "a:1", clock, sink)
	hubB, wtB := newTestHub(t, "b:1", clock, sink)
	link(wtA, wtB)

	hubA.SendMessage("/nope", hubB.Node, "whatever")
	// The initial PING/PONG handshake flushes the queued send to B, whose
	// registry has no such path.
	waitUntil(t, func() bool { return len(sink.Snapshot()) == 1 })
	dl := sink.Snapshot()[0]
	if dl.Ref.Path != "/nope" || dl.Reason != "unregistered path" {
		t.Fatalf("unexpected dead letter: %+v", dl)
	}
}

func TestHubQueueAgesOutOnCleanTick(t *testing.T) {
	clock := newFakeClock()
	sink := events.NewRecordingSink()
	hubA, _ := newTestHub(t, "a:1", clock, sink)

	hubA.SendMessage("/p", "b:1", "msg")
	if hubA.PeerQueueLen("b:1") != 1 {
		t.Fatalf("expected message queued")
	}

	clock.Advance(hubA.Config.QueueItemLifetime + time.Second)
	hubA.QueueCleanTick()

	if hubA.PeerQueueLen("b:1") != 0 {
		t.Fatalf("expected queue drained after aging out")
	}
	if st, _ := hubA.PeerState("b:1"); st != RadioSilence {
		t.Fatalf("peer state should be unaffected by queue cleanup alone, got %v", st)
	}
	if dls := sink.Snapshot(); len(dls) != 1 || dls[0].Reason != "queue item aged out" {
		t.Fatalf("expected one aged-out dead letter, got %+v", dls)
	}
}

func TestHubSilentlyHopingDropsQueue(t *testing.T) {
	clock := newFakeClock()
	sink := events.NewRecordingSink()
	hubA, _ := newTestHub(t, "a:1", clock, sink)

	hubA.SendMessage("/p", "b:1", "msg1")
	hubA.SendMessage("/p", "b:1", "msg2")

	clock.Advance(hubA.Config.MaxSilenceBetweenHeartbeats + hubA.Config.TimeToKeepHope + time.Second)
	hubA.HeartbeatTick()

	if st, _ := hubA.PeerState("b:1"); st != SilentlyHoping {
		t.Fatalf("expected silentlyhoping, got %v", st)
	}
	if hubA.PeerQueueLen("b:1") != 0 {
		t.Fatalf("expected queue dropped, got len=%d", hubA.PeerQueueLen("b:1"))
	}
	if dls := sink.Snapshot(); len(dls) != 2 {
		t.Fatalf("expected both queued messages dead-lettered, got %d", len(dls))
	}

	// Further sends to an abandoned peer go straight to dead-letter.
	hubA.SendMessage("/p", "b:1", "msg3")
	if dls := sink.Snapshot(); len(dls) != 3 || dls[2].Reason != "peer queue abandoned" {
		t.Fatalf("expected msg3 to be dead-lettered immediately, got %+v", dls)
	}
}

func TestHubToleratesNonPingFirstInbound(t *testing.T) {
	clock := newFakeClock()
	sink := events.NewRecordingSink()
	hubB, _ := newTestHub(t, "b:1", clock, sink)
	target := &recordingTarget{}
	hubB.Register("/p", target)

	data, err := JSONCodec{}.Encode("/p", "surprise")
	if err != nil {
		t.Fatal(err)
	}
	hubB.GotMessage("a:1", data)

	if st, ok := hubB.PeerState("a:1"); !ok || st != ReverseRadioSilence {
		t.Fatalf("expected a:1 to be bookkept as reverse_radiosilence, got %v ok=%v", st, ok)
	}
	if len(target.snapshot()) != 1 {
		t.Fatal("expected payload to still be delivered despite the protocol violation")
	}
}
