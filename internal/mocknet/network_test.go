package mocknet

import (
	"testing"
	"time"

	"github.com/haldane-systems/aetherhub/internal/actor"
	"github.com/haldane-systems/aetherhub/internal/events"
	"github.com/haldane-systems/aetherhub/internal/remoting"
)

type recordingTarget struct {
	msgs []interface{}
}

func (r *recordingTarget) Send(msg interface{}) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func newTestNetwork() *Network {
	return New(NewClock(time.Unix(0, 0)))
}

// TestTwoNodeRoundTrip is scenario S1: a message sent before any heartbeat
// exchange should still arrive once the network is simulated long enough
// for the PING/PONG handshake to settle, and both ends should see each
// other as visible.
func TestTwoNodeRoundTrip(t *testing.T) {
	net := newTestNetwork()
	sink := events.NewRecordingSink()

	hubA, err := net.Node("127.0.0.1:11001", sink)
	if err != nil {
		t.Fatal(err)
	}
	hubB, err := net.Node("127.0.0.1:11002", sink)
	if err != nil {
		t.Fatal(err)
	}

	target := &recordingTarget{}
	hubB.Register("/actor", target)

	proxy := hubA.MakeProxy("/actor", hubB.Node)
	if err := proxy.Send("hello"); err != nil {
		t.Fatal(err)
	}

	net.Simulate(2*time.Second, 100*time.Millisecond)

	if len(target.msgs) != 1 || target.msgs[0] != "hello" {
		t.Fatalf("expected B's actor to receive \"hello\", got %v", target.msgs)
	}
	if st, _ := hubA.PeerState(hubB.Node); st != remoting.Visible {
		t.Fatalf("expected A to see B visible, got %v", st)
	}
	if st, _ := hubB.PeerState(hubA.Node); st != remoting.Visible {
		t.Fatalf("expected B to see A visible, got %v", st)
	}
}

// TestInitialQueueing is scenario S2: messages sent before any heartbeat
// exchange queue up in send order and flush once the peer becomes visible.
func TestInitialQueueing(t *testing.T) {
	net := newTestNetwork()
	sink := events.NewRecordingSink()

	hubA, err := net.Node("a:1", sink)
	if err != nil {
		t.Fatal(err)
	}
	hubB, err := net.Node("b:1", sink)
	if err != nil {
		t.Fatal(err)
	}
	target := &recordingTarget{}
	hubB.Register("/p", target)

	hubA.SendMessage("/p", hubB.Node, "one")
	hubA.SendMessage("/p", hubB.Node, "two")
	hubA.SendMessage("/p", hubB.Node, "three")

	if n := hubA.PeerQueueLen(hubB.Node); n != 3 {
		t.Fatalf("expected queue length 3 before any delivery, got %d", n)
	}
	if st, _ := hubA.PeerState(hubB.Node); st != remoting.RadioSilence {
		t.Fatalf("expected radiosilence before any delivery, got %v", st)
	}

	net.Simulate(1*time.Second, 100*time.Millisecond)

	if len(target.msgs) != 3 || target.msgs[0] != "one" || target.msgs[1] != "two" || target.msgs[2] != "three" {
		t.Fatalf("expected all three messages delivered in order, got %v", target.msgs)
	}
	if n := hubA.PeerQueueLen(hubB.Node); n != 0 {
		t.Fatalf("expected queue drained, got %d", n)
	}
	if st, _ := hubA.PeerState(hubB.Node); st != remoting.Visible {
		t.Fatalf("expected visible after flush, got %v", st)
	}
}

// TestLostPeerYieldsDeadLetters is scenario S3: once a peer stops
// listening entirely, continued silence eventually drives it to
// silentlyhoping and dead-letters whatever was queued for it.
func TestLostPeerYieldsDeadLetters(t *testing.T) {
	net := newTestNetwork()
	sink := events.NewRecordingSink()

	hubA, err := net.Node("a:1", sink)
	if err != nil {
		t.Fatal(err)
	}
	hubB, err := net.Node("b:1", sink)
	if err != nil {
		t.Fatal(err)
	}
	target := &recordingTarget{}
	hubB.Register("/p", target)

	hubA.SendMessage("/p", hubB.Node, "hello")

	// Tear B down: remove its listener so nothing sent to it is ever
	// delivered again, modelling the peer going away mid-session.
	net.mu.Lock()
	delete(net.listeners, hubB.Node)
	net.mu.Unlock()

	net.Simulate(60*time.Second, 500*time.Millisecond)

	if st, _ := hubA.PeerState(hubB.Node); st != remoting.SilentlyHoping {
		t.Fatalf("expected A to give up on B, got %v", st)
	}
	if len(sink.Snapshot()) == 0 {
		t.Fatal("expected at least one dead letter for the queued message")
	}
}

// TestQueueAging is scenario S4: a message queued for an address that
// never answers ages out as a dead letter well before time_to_keep_hope
// elapses, while the peer state itself stays radiosilence.
func TestQueueAging(t *testing.T) {
	net := newTestNetwork()
	sink := events.NewRecordingSink()

	hubA, err := net.Node("a:1", sink)
	if err != nil {
		t.Fatal(err)
	}
	// b:1 is never bound, so nothing sent to it is ever delivered.
	hubA.SendMessage("/p", "b:1", "lonely")

	net.Simulate(hubA.Config.QueueItemLifetime+time.Second, 500*time.Millisecond)

	if n := hubA.PeerQueueLen("b:1"); n != 0 {
		t.Fatalf("expected the aged message gone from the queue, got len=%d", n)
	}
	found := false
	for _, dl := range sink.Snapshot() {
		if dl.Reason == "queue item aged out" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a queue-aged-out dead letter")
	}
	if st, _ := hubA.PeerState("b:1"); st != remoting.RadioSilence {
		t.Fatalf("expected peer state still radiosilence, got %v", st)
	}
}

// TestPacketLossDrivesSilentlyHoping is scenario S5: with 100% loss in one
// direction, not even heartbeats get through, so the peer eventually
// transitions to silentlyhoping despite both ends being up.
func TestPacketLossDrivesSilentlyHoping(t *testing.T) {
	net := newTestNetwork()
	sink := events.NewRecordingSink()

	hubA, err := net.Node("a:1", sink)
	if err != nil {
		t.Fatal(err)
	}
	hubB, err := net.Node("b:1", sink)
	if err != nil {
		t.Fatal(err)
	}
	target := &recordingTarget{}
	hubB.Register("/p", target)

	net.PacketLoss(100, hubA.Node, hubB.Node)

	hubA.SendMessage("/p", hubB.Node, "never arrives")

	net.Simulate(hubA.Config.MaxSilenceBetweenHeartbeats+hubA.Config.TimeToKeepHope+time.Second, 500*time.Millisecond)

	if len(target.msgs) != 0 {
		t.Fatalf("expected B to receive nothing, got %v", target.msgs)
	}
	if st, _ := hubA.PeerState(hubB.Node); st != remoting.SilentlyHoping {
		t.Fatalf("expected A to give up on B after total silence, got %v", st)
	}
}

// TestUnregisteredPathDeadLetters is scenario S6: an inbound message
// naming a path absent from the destination's registry is dead-lettered
// there, without otherwise disturbing its state.
func TestUnregisteredPathDeadLetters(t *testing.T) {
	net := newTestNetwork()
	sinkA := events.NewRecordingSink()
	sinkB := events.NewRecordingSink()

	hubA, err := net.Node("a:1", sinkA)
	if err != nil {
		t.Fatal(err)
	}
	hubB, err := net.Node("b:1", sinkB)
	if err != nil {
		t.Fatal(err)
	}

	hubA.SendMessage("/nope", hubB.Node, "whatever")
	net.Simulate(1*time.Second, 100*time.Millisecond)

	dls := sinkB.Snapshot()
	if len(dls) != 1 {
		t.Fatalf("expected exactly one dead letter on B, got %d", len(dls))
	}
	if dls[0].Ref.Path != "/nope" || dls[0].Reason != "unregistered path" {
		t.Fatalf("unexpected dead letter: %+v", dls[0])
	}
}

func TestAddressValidation(t *testing.T) {
	net := newTestNetwork()
	if _, err := net.Node("not-an-address", events.NopSink{}); err == nil {
		t.Fatal("expected an error for an address without a port")
	}
}

func TestDuplicateBindRejected(t *testing.T) {
	net := newTestNetwork()
	if _, err := net.Node("a:1", events.NopSink{}); err != nil {
		t.Fatal(err)
	}
	if _, err := net.Node("a:1", events.NopSink{}); err == nil {
		t.Fatal("expected rebinding the same address to fail")
	}
}

// Scenario S7 (supervision) exercises the actor package's Spawn/Stop
// machinery rather than the network, and is covered by
// internal/actor's TestSpawnDeliversExitToParent.
var _ actor.Target = (*recordingTarget)(nil)
