package hub

import "sync"

// Registry is the node-local mapping of identity to its one bound connection. A
// single mutex guards every read and write, including the is-current check that
// protects unbind against the ABA case where a newer session already took the slot.
// Callers take snapshots under the lock and perform all socket I/O after releasing
// it; the registry itself never touches a connection.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Bind installs c as the identity's current connection and returns the displaced
// prior connection, or nil when the slot was empty or already held c. The caller
// must close the returned connection with CloseEvicted before dropping it.
func (r *Registry) Bind(email string, c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.clients[email]
	r.clients[email] = c
	if prior == c {
		return nil
	}
	return prior
}

// UnbindIfCurrent removes the identity's binding iff it still points at c. It
// returns whether a removal happened; a false return means a newer session owns the
// slot and nothing was changed.
func (r *Registry) UnbindIfCurrent(email string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[email] != c {
		return false
	}
	delete(r.clients, email)
	return true
}

// Get returns the identity's current connection, or nil.
func (r *Registry) Get(email string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[email]
}

// Snapshot returns a copy of all bound connections for fan-out.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Identities returns a copy of all bound identities.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.clients))
	for email := range r.clients {
		out = append(out, email)
	}
	return out
}

// Len returns the number of bound identities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
