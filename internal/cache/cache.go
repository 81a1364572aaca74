// Package cache implements the relay's Message Cache: a bounded,
// per-session deque of recently-routed envelopes (spec.md §3, §4.5).
// The relay's dispatch fills it but does not replay it to joining
// peers.
package cache

import (
	"sync"
	"time"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

// Entry pairs a cached envelope with its receipt time.
type Entry struct {
	Envelope  protocol.Envelope
	ReceiptAt time.Time
}

// perSession is a strict-FIFO bounded deque.
type perSession struct {
	mu      sync.Mutex
	entries []Entry
}

func (p *perSession) push(env protocol.Envelope, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = append(p.entries, Entry{Envelope: env, ReceiptAt: now})
	p.evictLocked(now)
}

func (p *perSession) evictLocked(now time.Time) {
	for len(p.entries) > protocol.MaxCacheLen {
		p.entries = p.entries[1:]
	}
	cut := 0
	for cut < len(p.entries) && now.Sub(p.entries[cut].ReceiptAt) > protocol.CacheTTL {
		cut++
	}
	if cut > 0 {
		p.entries = p.entries[cut:]
	}
}

func (p *perSession) snapshot(now time.Time) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictLocked(now)
	out := make([]Entry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Cache is the relay-wide Message Cache, keyed by session id.
type Cache struct {
	mu       sync.Mutex
	sessions map[string]*perSession
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{sessions: make(map[string]*perSession)}
}

func (c *Cache) sessionFor(id string) *perSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		s = &perSession{}
		c.sessions[id] = s
	}
	return s
}

// Push appends a CLI->web envelope to a session's cache, evicting the
// front while len > MaxCacheLen or the oldest entry exceeds CacheTTL.
func (c *Cache) Push(sessionID string, env protocol.Envelope) {
	c.sessionFor(sessionID).push(env, time.Now())
}

// Snapshot returns a copy of the live cache for a session in FIFO
// order. It never blocks new pushes.
func (c *Cache) Snapshot(sessionID string) []Entry {
	return c.sessionFor(sessionID).snapshot(time.Now())
}

// Purge immediately discards a session's cache, e.g. on
// SESSION_DELETE_REQUEST (SPEC_FULL.md §8: purge immediately).
func (c *Cache) Purge(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}
