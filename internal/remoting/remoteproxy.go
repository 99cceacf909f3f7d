package remoting

import "github.com/haldane-systems/aetherhub/internal/actor"

// RemoteProxy stands in for an actor on another node. Every Send is
// delegated to the Hub it is bound to, together with the (path, node) of
// the actor it represents.
type RemoteProxy struct {
	Path actor.Path
	Node actor.Addr

	hub *Hub
}

// Send delegates msg to the bound Hub's SendMessage. Remote sends are
// always asynchronous; there is no synchronous fast path for a proxy.
func (p *RemoteProxy) Send(msg interface{}) error {
	p.hub.SendMessage(p.Path, p.Node, msg)
	return nil
}

func (p *RemoteProxy) String() string {
	return string(p.Path) + "@" + string(p.Node)
}
