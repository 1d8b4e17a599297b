package stream

import (
	"errors"
	"sort"
	"sync"

	"github.com/rhinehart514/hivesync/pkg/types"
)

// ErrTooManyConnections is returned by Open when the registry is at its
// connection cap. The API layer maps it to rate_limited.
var ErrTooManyConnections = errors.New("too many live connections")

// Registry tracks the live streaming connections of this process, keyed by
// the state key they watch. It backs the activeConnections count in sync
// status summaries. Registration is process-local: connections on other
// instances are not visible here.
type Registry struct {
	mu    sync.RWMutex
	conns map[types.ToolStateKey]map[string]string // key -> connection ID -> user ID
	total int
	max   int
}

// NewRegistry creates a registry capping the total number of simultaneous
// connections. max <= 0 means unlimited.
func NewRegistry(max int) *Registry {
	return &Registry{
		conns: make(map[types.ToolStateKey]map[string]string),
		max:   max,
	}
}

// Add registers a connection watching key. It fails when the cap is reached.
func (r *Registry) Add(key types.ToolStateKey, connectionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && r.total >= r.max {
		return ErrTooManyConnections
	}

	byConn, ok := r.conns[key]
	if !ok {
		byConn = make(map[string]string)
		r.conns[key] = byConn
	}
	if _, exists := byConn[connectionID]; exists {
		return nil
	}
	byConn[connectionID] = userID
	r.total++
	return nil
}

// Remove deregisters a connection. Removing an unknown connection is a no-op.
func (r *Registry) Remove(key types.ToolStateKey, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byConn, ok := r.conns[key]
	if !ok {
		return
	}
	if _, exists := byConn[connectionID]; !exists {
		return
	}
	delete(byConn, connectionID)
	r.total--
	if len(byConn) == 0 {
		delete(r.conns, key)
	}
}

// ActiveConnections returns the IDs of the connections watching key, sorted.
func (r *Registry) ActiveConnections(key types.ToolStateKey) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byConn := r.conns[key]
	ids := make([]string, 0, len(byConn))
	for id := range byConn {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the total number of live connections across all keys.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
