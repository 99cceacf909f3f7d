package actor

// Addr is a node address, conventionally "<host>:<port>", or an opaque
// identifier when running against the mock network.
type Addr string

// Path is an opaque string identifying an actor within its node. Unique per
// node for registered actors.
type Path string

// Target is anything a Ref can deliver a message to: a local *Actor or a
// remote proxy bound to a Hub. internal/remoting's RemoteProxy implements
// this interface without actor needing to import remoting.
type Target interface {
	Send(msg interface{}) error
}

// Ref is the addressable handle passed across the wire. Only Path and Node
// cross the wire; Target is reconstructed on the receiving side by whatever
// installs the decode hook (see internal/remoting's codec).
type Ref struct {
	Path   Path
	Node   Addr
	Target Target
}

// Send delivers msg to the Ref's bound target. A Ref with a nil Target is
// unbound and always fails with ErrNoRoute.
func (r *Ref) Send(msg interface{}) error {
	if r == nil || r.Target == nil {
		return ErrNoRoute
	}
	return r.Target.Send(msg)
}

func (r *Ref) String() string {
	if r == nil {
		return "<nil-ref>"
	}
	if r.Node == "" {
		return string(r.Path)
	}
	return string(r.Path) + "@" + string(r.Node)
}
