package remoting

import (
	"sync"

	"github.com/haldane-systems/aetherhub/internal/actor"
)

// Discovery lets a node publish itself and resolve the addresses of
// others. The Hub does not depend on Discovery directly -- it is wired at
// the application layer (cmd/aetherhubd) to seed AddEndpoint calls for
// nodes that haven't spoken yet.
type Discovery interface {
	Register(node actor.Addr, metadata map[string]string) error
	Unregister(node actor.Addr) error
	Resolve(node actor.Addr) (map[string]string, bool)
	Members() []actor.Addr
}

// StaticDiscovery is an in-memory, process-local member list, grounded in
// the teacher's remote/discovery.go StaticDiscovery.
type StaticDiscovery struct {
	mu      sync.RWMutex
	members map[actor.Addr]map[string]string
}

func NewStaticDiscovery() *StaticDiscovery {
	return &StaticDiscovery{members: make(map[actor.Addr]map[string]string)}
}

func (d *StaticDiscovery) Register(node actor.Addr, metadata map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[node] = metadata
	return nil
}

func (d *StaticDiscovery) Unregister(node actor.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members, node)
	return nil
}

func (d *StaticDiscovery) Resolve(node actor.Addr) (map[string]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.members[node]
	return m, ok
}

func (d *StaticDiscovery) Members() []actor.Addr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]actor.Addr, 0, len(d.members))
	for a := range d.members {
		out = append(out, a)
	}
	return out
}
