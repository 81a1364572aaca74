// Package store implements the relay's Session Store: the authoritative
// session records, their TTL, and ownership rules (spec.md §3, §4.4).
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

// State is a Session's lifecycle state.
type State string

const (
	StateActive      State = "active"
	StateCLIDetached State = "cli-detached"
	StateClosed      State = "closed"
)

var (
	ErrSessionNotFound = errors.New("store: session not found")
	ErrSessionExpired  = errors.New("store: session expired")
	ErrSessionFull     = errors.New("store: session already exists")
	ErrSessionExists   = ErrSessionFull
	ErrUnauthorized    = errors.New("store: unauthorized")
)

// Session is the authoritative record for one CLI<->web attachment.
type Session struct {
	ID            string
	Owner         string // "anonymous" when unauthenticated
	CLIPublicKey  string
	CLIConn       string // empty when CLI is detached
	WebConns      map[string]struct{}
	Command       string
	Args          []string
	Cwd           string
	InstanceLabel string
	CreatedAt     time.Time
	LastActiveAt  time.Time
	State         State
}

// Meta carries the create-time session attributes the caller controls.
type Meta struct {
	Command       string
	Args          []string
	Cwd           string
	InstanceLabel string
}

func (s *Session) expired(now time.Time) bool {
	return now.Sub(s.LastActiveAt) > protocol.SessionTTL
}

func (s *Session) touch(now time.Time) { s.LastActiveAt = now }

func (s *Session) clone() Session {
	cp := *s
	cp.WebConns = make(map[string]struct{}, len(s.WebConns))
	for k := range s.WebConns {
		cp.WebConns[k] = struct{}{}
	}
	cp.Args = append([]string(nil), s.Args...)
	return cp
}

// ToInfo projects a Session onto the client-facing protocol.SessionInfo shape.
func (s Session) ToInfo() protocol.SessionInfo {
	return protocol.SessionInfo{
		SessionID:     s.ID,
		State:         string(s.State),
		Command:       s.Command,
		Args:          s.Args,
		Cwd:           s.Cwd,
		InstanceLabel: s.InstanceLabel,
		WebPeerCount:  len(s.WebConns),
		CreatedAt:     s.CreatedAt.UnixMilli(),
		LastActiveAt:  s.LastActiveAt.UnixMilli(),
	}
}

// Store is the Session Store contract; MemStore and SQLiteStore both
// satisfy it.
type Store interface {
	Create(id, owner, cliPubKey, cliConn string, meta Meta) (Session, error)
	ReconnectCLI(id, newCLIPubKey, newCLIConn, callerUser string) (Session, error)
	JoinWeb(id, webConn string) (Session, error)
	Leave(id, conn string) error
	DetachCLI(id string) error
	Update(id, owner string, label *string) (Session, error)
	Delete(id, owner string) error
	List(owner string, includeInactive bool) ([]Session, error)
	Get(id string) (Session, error)
}

// MemStore is the in-process authoritative Store: one store-wide mutex
// guarding a map, with TTL enforced lazily on access (mirroring the
// lazy-expiry map idiom this relay family uses for its caches).
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemStore creates an empty in-memory Session Store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

func (m *MemStore) getLocked(id string, now time.Time) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.State != StateClosed && s.expired(now) {
		s.State = StateClosed
	}
	if s.State == StateClosed {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Create opens a brand new session with the CLI bound.
func (m *MemStore) Create(id, owner, cliPubKey, cliConn string, meta Meta) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.sessions[id]; ok && !(existing.State == StateClosed || existing.expired(now)) {
		return Session{}, ErrSessionFull
	}

	s := &Session{
		ID:            id,
		Owner:         owner,
		CLIPublicKey:  cliPubKey,
		CLIConn:       cliConn,
		WebConns:      make(map[string]struct{}),
		Command:       meta.Command,
		Args:          meta.Args,
		Cwd:           meta.Cwd,
		InstanceLabel: meta.InstanceLabel,
		CreatedAt:     now,
		LastActiveAt:  now,
		State:         StateActive,
	}
	m.sessions[id] = s
	return s.clone(), nil
}

// ReconnectCLI rebinds the CLI slot. Allowed when the slot is empty, or
// when callerUser matches the session's owner (spec.md §4.4, resolved
// per SPEC_FULL.md §8 for the non-owner-when-empty case).
func (m *MemStore) ReconnectCLI(id, newCLIPubKey, newCLIConn, callerUser string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, err := m.getLocked(id, now)
	if err != nil {
		return Session{}, err
	}
	if s.CLIConn != "" && s.Owner != callerUser {
		return Session{}, ErrUnauthorized
	}
	s.CLIPublicKey = newCLIPubKey
	s.CLIConn = newCLIConn
	s.State = StateActive
	s.touch(now)
	return s.clone(), nil
}

// JoinWeb adds a web peer connection to an active or cli-detached session.
func (m *MemStore) JoinWeb(id, webConn string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, err := m.getLocked(id, now)
	if err != nil {
		return Session{}, err
	}
	s.WebConns[webConn] = struct{}{}
	s.touch(now)
	return s.clone(), nil
}

// Leave removes a connection (CLI or web) from a session. If the CLI
// leaves, the session transitions to cli-detached rather than closing.
func (m *MemStore) Leave(id, conn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, err := m.getLocked(id, now)
	if err != nil {
		return err
	}
	if s.CLIConn == conn {
		s.CLIConn = ""
		s.State = StateCLIDetached
	}
	delete(s.WebConns, conn)
	s.touch(now)
	return nil
}

// DetachCLI marks a session cli-detached without removing web peers.
func (m *MemStore) DetachCLI(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, err := m.getLocked(id, now)
	if err != nil {
		return err
	}
	s.CLIConn = ""
	s.State = StateCLIDetached
	s.touch(now)
	return nil
}

// Update patches mutable metadata; owner-only.
func (m *MemStore) Update(id, owner string, label *string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, err := m.getLocked(id, now)
	if err != nil {
		return Session{}, err
	}
	if s.Owner != owner {
		return Session{}, ErrUnauthorized
	}
	if label != nil {
		s.InstanceLabel = *label
	}
	s.touch(now)
	return s.clone(), nil
}

// Delete closes a session permanently; owner-only.
func (m *MemStore) Delete(id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s, err := m.getLocked(id, now)
	if err != nil {
		return err
	}
	if s.Owner != owner {
		return ErrUnauthorized
	}
	s.State = StateClosed
	delete(m.sessions, id)
	return nil
}

// List returns the owner's unexpired sessions, optionally including
// cli-detached ones. Closed sessions are never returned.
func (m *MemStore) List(owner string, includeInactive bool) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var out []Session
	for _, s := range m.sessions {
		if s.Owner != owner {
			continue
		}
		if s.expired(now) {
			continue
		}
		if !includeInactive && s.State != StateActive {
			continue
		}
		out = append(out, s.clone())
	}
	return out, nil
}

// Get returns one session by id.
func (m *MemStore) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.getLocked(id, time.Now())
	if err != nil {
		return Session{}, err
	}
	return s.clone(), nil
}
