package group

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vango-dev/socksync/pkg/protocol"
)

// Registry maps group names to groups.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]Group)}
}

// Register adds g. Names are unique across all kinds.
func (r *Registry) Register(g Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, g.Name())
	}
	r.groups[g.Name()] = g
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(groups ...Group) {
	for _, g := range groups {
		if err := r.Register(g); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the group registered under name.
func (r *Registry) Lookup(name string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	return g, ok
}

// Groups returns every registered group sorted by name.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Dispatch routes msg to the group it names and returns the group's reply.
// Routing failures are reported to origin as general errors.
func (r *Registry) Dispatch(msg protocol.Message, origin Connection) protocol.Message {
	name := msg.Name()
	g, ok := r.Lookup(name)
	if !ok {
		if origin != nil {
			origin.SendGeneralError("unknown group: " + name)
		}
		return nil
	}
	if t := msg.Type(); t != string(g.Kind()) {
		if origin != nil {
			origin.SendGeneralError(fmt.Sprintf("group %s is a %s, not a %s", name, g.Kind(), t))
		}
		return nil
	}
	return g.HandleCommand(msg.Func(), msg, origin)
}

// UnsubscribeAll removes c from every group.
func (r *Registry) UnsubscribeAll(c Connection) {
	for _, g := range r.Groups() {
		g.Unsubscribe(c)
	}
}
