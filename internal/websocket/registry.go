package websocket

import "sync"

type presenceEntry struct {
	displayName string
	client      *Client
}

// Registry maps each online user to the single connection that currently
// receives their events. It lives only in memory and is rebuilt from live
// connections after a restart.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]presenceEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]presenceEntry)}
}

// Register inserts or overwrites the entry for userID and returns the
// connection it replaced, if any. The replaced connection is left open.
func (r *Registry) Register(userID int64, displayName string, c *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.entries[userID].client
	r.entries[userID] = presenceEntry{displayName: displayName, client: c}
	return prev
}

// Unregister removes the entry for userID. Removing an absent user is a no-op.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
}

// Release removes the entry for userID only if c is still its connection.
// It reports whether an entry was removed.
func (r *Registry) Release(userID int64, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok || e.client != c {
		return false
	}
	delete(r.entries, userID)
	return true
}

// Lookup returns the live connection of userID. A false result means the
// user is not reachable right now.
func (r *Registry) Lookup(userID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	return e.client, ok
}

// DisplayName returns the name userID registered with.
func (r *Registry) DisplayName(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	return e.displayName, ok
}

// IsOnline reports whether userID has an entry.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}

// Snapshot copies the current connections so callers can send without
// holding the lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.entries))
	for _, e := range r.entries {
		clients = append(clients, e.client)
	}
	return clients
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
