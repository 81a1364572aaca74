// Package registry implements the relay's Connection Registry: the
// connection↔session↔role map and its heartbeat sweep, grounded on the
// mutex-guarded map + background ticker idiom this relay family uses
// for peer bookkeeping.
package registry

import (
	"sync"
	"time"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

// Role identifies which side of a session a connection plays.
type Role string

const (
	RoleCLI Role = "cli"
	RoleWeb Role = "web"
)

// Connection is a live transport attachment (spec.md §3).
type Connection struct {
	ID            string
	SessionID     string // empty until bound on first control frame
	Role          Role
	UserID        string // empty when unauthenticated
	LastHeartbeat time.Time
}

// members is the reverse index for one session.
type members struct {
	cli string // connection id, empty if detached
	web map[string]struct{}
}

// Registry maintains ConnectionID -> Connection and the reverse index
// SessionID -> {cli?, web[]}. All exported operations are safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	bySes map[string]*members

	stop    chan struct{}
	onEvict func(Evicted)
}

// OnEviction registers a callback invoked (sequentially) for each
// connection the heartbeat sweeper removes. The relay uses this to
// transition the session to cli-detached and notify web peers.
func (r *Registry) OnEviction(fn func(Evicted)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// New creates an empty Registry and starts its heartbeat sweeper.
func New() *Registry {
	r := &Registry{
		conns: make(map[string]*Connection),
		bySes: make(map[string]*members),
		stop:  make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the background sweeper.
func (r *Registry) Close() {
	close(r.stop)
}

// Open registers a newly-opened transport with no session binding yet.
func (r *Registry) Open(connID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Connection{ID: connID, LastHeartbeat: time.Now()}
	r.conns[connID] = c
	return c
}

// Bind attaches a connection to a session with a role, once its first
// SESSION_CREATE|RECONNECT|JOIN frame is processed.
func (r *Registry) Bind(connID, sessionID string, role Role, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	c.SessionID = sessionID
	c.Role = role
	c.UserID = userID

	m, ok := r.bySes[sessionID]
	if !ok {
		m = &members{web: make(map[string]struct{})}
		r.bySes[sessionID] = m
	}
	if role == RoleCLI {
		m.cli = connID
	} else {
		m.web[connID] = struct{}{}
	}
}

// SetUser attaches an authenticated user id to a connection, e.g. after
// the Auth Gate verifies a bearer token at connect time.
func (r *Registry) SetUser(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.UserID = userID
	}
}

// Touch refreshes a connection's heartbeat timestamp; call on every
// inbound frame.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connID]; ok {
		c.LastHeartbeat = time.Now()
	}
}

// Get returns the connection record, if any.
func (r *Registry) Get(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// Members returns the CLI connection id (empty if detached) and the
// web peer connection ids for a session.
func (r *Registry) Members(sessionID string) (cli string, web []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.bySes[sessionID]
	if !ok {
		return "", nil
	}
	web = make([]string, 0, len(m.web))
	for id := range m.web {
		web = append(web, id)
	}
	return m.cli, web
}

// Remove deletes a connection, e.g. on transport close or heartbeat
// eviction, returning the record that was removed and whether it was
// the session's CLI slot.
func (r *Registry) Remove(connID string) (conn Connection, wasCLI bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return Connection{}, false, false
	}
	delete(r.conns, connID)

	if c.SessionID != "" {
		if m, ok := r.bySes[c.SessionID]; ok {
			if m.cli == connID {
				m.cli = ""
				wasCLI = true
			}
			delete(m.web, connID)
			if m.cli == "" && len(m.web) == 0 {
				delete(r.bySes, c.SessionID)
			}
		}
	}
	return *c, wasCLI, true
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(protocol.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepOnce(time.Now())
		}
	}
}

// Evicted is reported for every connection the sweeper removes for
// heartbeat timeout.
type Evicted struct {
	Connection Connection
	WasCLI     bool
}

func (r *Registry) sweepOnce(now time.Time) []Evicted {
	r.mu.Lock()
	var stale []string
	for id, c := range r.conns {
		if now.Sub(c.LastHeartbeat) > protocol.HeartbeatTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	var evicted []Evicted
	r.mu.RLock()
	handler := r.onEvict
	r.mu.RUnlock()

	for _, id := range stale {
		if conn, wasCLI, ok := r.Remove(id); ok {
			ev := Evicted{Connection: conn, WasCLI: wasCLI}
			evicted = append(evicted, ev)
			if handler != nil {
				handler(ev)
			}
		}
	}
	return evicted
}
