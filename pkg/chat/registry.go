package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/harun/tether/pkg/session"
)

// Connection is the per-connection state: which controller serves it and
// which thread it is talking to.
type Connection struct {
	ID           string
	Controller   *session.Controller
	ThreadID     string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// ConnectionInfo is a read-only snapshot of a connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry maps connection ids to their state
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Add registers a connection, replacing any entry with the same id
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	conn.LastActivity = now
	r.conns[conn.ID] = conn
}

// Remove drops a connection
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, id)
}

// Lookup returns the controller and current thread of a connection
func (r *Registry) Lookup(id string) (*session.Controller, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil, "", false
	}
	return conn.Controller, conn.ThreadID, true
}

// SetThread switches a connection to another thread
func (r *Registry) SetThread(id, threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.ThreadID = threadID
	return true
}

// Touch updates the last activity time
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		conn.LastActivity = time.Now()
	}
}

// Count returns the number of connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// Snapshot lists connections ordered by connect time
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, conn := range r.conns {
		infos = append(infos, ConnectionInfo{
			ID:           conn.ID,
			ThreadID:     conn.ThreadID,
			ConnectedAt:  conn.ConnectedAt,
			LastActivity: conn.LastActivity,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
