package registry

import (
	"errors"
	"slices"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrNoCapableAgent reports that a capability lookup came back empty. The
// fabric never substitutes another capability on the caller's behalf.
var ErrNoCapableAgent = errors.New("no active agent for capability")

// Status is an agent's liveness flag in the directory.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Descriptor is the directory entry for one agent identity.
type Descriptor struct {
	ID            string
	Capabilities  []string
	Status        Status
	LastHeartbeat time.Time
}

// HasCapability reports whether the descriptor declares name. Capability order
// within a descriptor carries no meaning.
func (d Descriptor) HasCapability(name string) bool {
	return slices.Contains(d.Capabilities, name)
}

// Registry is the shared directory mapping agent identity to capabilities and
// liveness. It is a mutably-updated index read concurrently by every routing
// decision, so all access goes through a single RWMutex. The ordered map keeps
// first-registration order, which FindByCapability relies on.
type Registry struct {
	mu     sync.RWMutex
	agents *orderedmap.OrderedMap[string, Descriptor]
}

func New() *Registry {
	return &Registry{agents: orderedmap.New[string, Descriptor]()}
}

// Register inserts or replaces the descriptor for d.ID. Re-registration is not
// an error and a replaced descriptor keeps its original position, so
// registration order stays stable across restarts of the same agent. A zero
// Status defaults to active, a zero LastHeartbeat to now.
func (r *Registry) Register(d Descriptor) {
	if d.Status == "" {
		d.Status = StatusActive
	}
	if d.LastHeartbeat.IsZero() {
		d.LastHeartbeat = time.Now()
	}
	d.Capabilities = slices.Clone(d.Capabilities)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents.Set(d.ID, d)
}

// Deregister removes the descriptor for id. Removing an absent identity is a
// no-op, not an error.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents.Delete(id)
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents.Get(id)
}

// Heartbeat refreshes the last-heartbeat timestamp for id. It reports whether
// the identity is registered.
func (r *Registry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.agents.Get(id)
	if !ok {
		return false
	}
	d.LastHeartbeat = time.Now()
	r.agents.Set(id, d)
	return true
}

// SetStatus flips the liveness flag for id. Inactive descriptors stay in the
// directory but are hidden from FindByCapability.
func (r *Registry) SetStatus(id string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.agents.Get(id)
	if !ok {
		return false
	}
	d.Status = status
	r.agents.Set(id, d)
	return true
}

// FindByCapability returns the identities of all active agents declaring name,
// in registration order. An empty result is not an error; callers that need an
// agent wrap ErrNoCapableAgent themselves. The selection policy everywhere in
// the fabric is "first element" — the registry does no load balancing and no
// health filtering beyond the status flag. A returned identity is a hint, not
// a guarantee: the agent may deregister before the caller sends, which
// surfaces as a failed publish, not here.
func (r *Registry) FindByCapability(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for pair := r.agents.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Status == StatusActive && pair.Value.HasCapability(name) {
			ids = append(ids, pair.Value.ID)
		}
	}
	return ids
}

// Len reports the number of registered descriptors, active or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents.Len()
}
