// Package clisession implements the CLI Session Manager: PTY
// lifecycle, the key-exchange handshake, per-web-peer fan-out, the
// input filter, and the reconnect loop (spec.md §4.8).
package clisession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/tyyzqmf/always-coder-sub001/internal/crypto"
	"github.com/tyyzqmf/always-coder-sub001/internal/logger"
	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
	"github.com/tyyzqmf/always-coder-sub001/internal/pty"
)

// State is a position in the CLI Session Manager's state machine
// (spec.md §4.8).
type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateReady
	StateDetached
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateDetached:
		return "detached"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures one CLI-side session.
type Config struct {
	ServerURL string // wss://host/ws/relay
	Token     string // bearer token, empty for anonymous
	SessionID string // empty to create, set to reconnect/attach

	Command string
	Args    []string
	Cwd     string
	Env     []string
	Cols    int
	Rows    int
	Daemon  bool

	Filter FilterConfig
}

// peer tracks one web connection's ephemeral shared secret and the
// consecutive-decryption-failure count that eventually evicts it
// (spec.md §7, S6).
type peer struct {
	connID        string
	secret        *crypto.SharedSecret
	failureStreak int
}

// outboundQueueSize is the minimum bound spec.md §5 requires (≥256).
const outboundQueueSize = 256

const websocketWriteTimeout = 5 * time.Second

// Manager owns one CLI-side session end to end.
type Manager struct {
	cfg  Config
	keys *crypto.KeyPair

	mu        sync.Mutex
	state     State
	sessionID string
	peers     map[string]*peer
	seq       atomic.Uint64

	proc     *pty.Process
	conn     *websocket.Conn
	exitInfo *pty.ExitInfo

	outbound chan []byte
	backoff  *Backoff
}

// ExitError reports the spawned process's own exit status once it
// exits on its own, as opposed to the manager's Run loop stopping for
// some other reason (context cancellation, transport failure). cmd/ac
// propagates it as exit code 6 (spec.md §6).
type ExitError struct {
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("clisession: process terminated by signal %s", e.Signal)
	}
	return fmt.Sprintf("clisession: process exited with code %d", e.Code)
}

// New creates a Manager in state IDLE with a fresh key pair.
func New(cfg Config) (*Manager, error) {
	keys, err := crypto.New()
	if err != nil {
		return nil, fmt.Errorf("clisession: generate keys: %w", err)
	}
	if cfg.Cols == 0 {
		cfg.Cols = 80
	}
	if cfg.Rows == 0 {
		cfg.Rows = 24
	}
	return &Manager{
		cfg:      cfg,
		keys:     keys,
		state:    StateIdle,
		peers:    make(map[string]*peer),
		outbound: make(chan []byte, outboundQueueSize),
		backoff:  NewBackoff(),
	}, nil
}

// State returns the manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// SessionID returns the bound session id, once known.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Run drives the manager until ctx is cancelled or CLOSED is reached
// via an unrecoverable error: dial, handshake, spawn the PTY on first
// success, then loop dispatching PTY reads and inbound frames until
// the transport drops, at which point it reconnects with backoff.
func (m *Manager) Run(ctx context.Context) error {
	defer m.close()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		m.setState(StateHandshaking)
		if err := m.connectAndHandshake(ctx); err != nil {
			logger.Warn("clisession: handshake failed", "err", err)
			if !m.waitBackoff(ctx) {
				return fmt.Errorf("clisession: exhausted reconnect attempts: %w", err)
			}
			continue
		}
		m.backoff.Reset()

		if m.proc == nil {
			proc, err := pty.Spawn(pty.SpawnConfig{
				Command: m.cfg.Command, Args: m.cfg.Args, Cwd: m.cfg.Cwd,
				Env: m.cfg.Env, Cols: m.cfg.Cols, Rows: m.cfg.Rows, Daemon: m.cfg.Daemon,
			})
			if err != nil {
				return fmt.Errorf("clisession: spawn pty: %w", err)
			}
			m.proc = proc
		}

		m.setState(StateReady)
		disconnected := m.readyLoop(ctx)
		if !disconnected {
			if ctx.Err() != nil {
				return nil // ctx cancelled
			}
			if info := m.exitInfo; info != nil && (info.Code != 0 || info.Signal != "") {
				return &ExitError{Code: info.Code, Signal: info.Signal}
			}
			return nil // PTY exited cleanly
		}

		m.setState(StateDetached)
		if !m.waitBackoff(ctx) {
			return fmt.Errorf("clisession: exhausted reconnect attempts")
		}
		m.setState(StateReconnecting)
	}
}

func (m *Manager) waitBackoff(ctx context.Context) bool {
	if m.backoff.Exhausted() {
		return false
	}
	d := m.backoff.Next()
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (m *Manager) close() {
	m.setState(StateClosed)
	if m.proc != nil {
		m.proc.Kill()
	}
	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// nextSeq returns the next monotonically increasing outbound sequence
// number (spec.md §4.8).
func (m *Manager) nextSeq() uint64 {
	return m.seq.Add(1)
}

func encodePayload(v any) protocol.RawPayload {
	b, _ := json.Marshal(v)
	return b
}
