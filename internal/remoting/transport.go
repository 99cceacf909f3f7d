// Package remoting implements the Hub: the per-node component that
// multiplexes outbound actor messages onto a transport keyed by
// destination node, drives a heartbeat liveness state machine per peer,
// buffers messages for peers not yet confirmed reachable, ages buffered
// messages into dead letters, and rewrites deserialized actor references
// into live proxies bound to itself.
package remoting

import "github.com/haldane-systems/aetherhub/internal/actor"

// OutgoingTransport is the single outbound socket a Hub multiplexes all
// peer traffic onto, keyed by destination address.
type OutgoingTransport interface {
	AddEndpoint(addr actor.Addr) error
	Send(dst actor.Addr, payload []byte) error
}

// IncomingTransport delivers inbound frames to a Hub-installed callback.
// Bind is called exactly once, at Hub construction, with the Hub's own
// node address.
type IncomingTransport interface {
	Bind(addr actor.Addr) error
	SetHandler(handler func(src actor.Addr, payload []byte))
}
