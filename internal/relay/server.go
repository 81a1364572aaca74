package relay

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tyyzqmf/always-coder-sub001/internal/cache"
	"github.com/tyyzqmf/always-coder-sub001/internal/logger"
	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
	"github.com/tyyzqmf/always-coder-sub001/internal/registry"
	"github.com/tyyzqmf/always-coder-sub001/internal/store"
)

// ServerConfig holds the relay's own startup settings plus the fields
// served from /api/config.json for client bootstrap (spec.md §6).
type ServerConfig struct {
	Addr      string
	WSBase    string // e.g. "wss://relay.example.com/ws"
	WebURL    string // e.g. "https://relay.example.com"
	CognitoUserPoolID string
	CognitoClientID   string
	CognitoRegion     string
}

// Server is the Session Relay's HTTP entry point: it upgrades
// connections, owns the Registry/Store/Cache, and hands every inbound
// frame to Dispatch.
type Server struct {
	cfg      ServerConfig
	registry *registry.Registry
	store    store.Store
	cache    *cache.Cache
	gate     *AuthGate
	dispatch *Dispatch
	device   *deviceAuth

	mux *http.ServeMux

	connsMu sync.Mutex
	conns   map[string]*websocket.Conn
}

// NewServer wires the relay's components around an injected Session
// Store (MemStore or SQLiteStore) so callers choose persistence.
// signingKey mints the bearer tokens the relay's own device-code login
// endpoints issue; pass the same key's public half to NewAuthGate so
// the gate can verify them.
func NewServer(cfg ServerConfig, st store.Store, gate *AuthGate, signingKey *ecdsa.PrivateKey) *Server {
	reg := registry.New()
	msgCache := cache.New()

	s := &Server{
		cfg:      cfg,
		registry: reg,
		store:    st,
		cache:    msgCache,
		gate:     gate,
		device:   newDeviceAuth(signingKey, cfg.WebURL),
		conns:    make(map[string]*websocket.Conn),
	}
	s.dispatch = &Dispatch{
		Registry: reg,
		Store:    st,
		Cache:    msgCache,
		Gate:     gate,
		Sender:   s,
		WSBase:   cfg.WSBase,
	}

	reg.OnEviction(func(ev registry.Evicted) {
		s.onConnectionClosed(ev.Connection, ev.WasCLI)
	})

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/config.json", s.handleConfig)
	s.mux.HandleFunc("/api/device/code", s.device.handleCode)
	s.mux.HandleFunc("/api/device/token", s.device.handleToken)
	s.mux.HandleFunc("/ws/relay", s.handleWS)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"server": s.cfg.WSBase,
		"webUrl": s.cfg.WebURL,
		"cognito": map[string]string{
			"userPoolId": s.cfg.CognitoUserPoolID,
			"clientId":   s.cfg.CognitoClientID,
			"region":     s.cfg.CognitoRegion,
		},
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.gate != nil && !s.gate.AllowConnect(r) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("ws accept failed", "err", err)
		return
	}

	connID := NewConnectionID()
	s.registry.Open(connID)

	if s.gate != nil {
		if userID, ok := s.gate.Authenticate(r.URL.Query().Get("token")); ok {
			s.registry.SetUser(connID, userID)
		}
	}

	s.connsMu.Lock()
	s.conns[connID] = conn
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, connID)
		s.connsMu.Unlock()
		if rc, wasCLI, ok := s.registry.Remove(connID); ok {
			s.onConnectionClosed(rc, wasCLI)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		s.dispatch.HandleFrame(connID, data)
	}
}

// onConnectionClosed keeps the Session Store in sync with the
// Connection Registry whenever a connection goes away, whether the
// peer closed its own transport (handleWS's defer) or the heartbeat
// sweeper evicted it (reg.OnEviction). Without this, Session.WebConns
// or the CLI slot would hold a connection id with no live transport
// behind it (spec.md §8 testable property 3).
func (s *Server) onConnectionClosed(conn registry.Connection, wasCLI bool) {
	if conn.SessionID == "" {
		return
	}

	if wasCLI {
		if err := s.store.DetachCLI(conn.SessionID); err != nil {
			return
		}
		_, webConns := s.registry.Members(conn.SessionID)
		for _, w := range webConns {
			_ = s.Send(w, protocol.CLIDisconnected{Type: protocol.KindCLIDisconnected})
		}
		return
	}

	if err := s.store.Leave(conn.SessionID, conn.ID); err != nil {
		return
	}
	cliConn, _ := s.registry.Members(conn.SessionID)
	if cliConn != "" {
		_ = s.Send(cliConn, protocol.WebDisconnected{
			Type:         protocol.KindWebDisconnected,
			ConnectionID: conn.ID,
		})
	}
}

// Send implements Sender by writing one JSON frame to a live connection.
// It is individually best-effort: a failure here never aborts the
// caller's wider dispatch/fan-out.
func (s *Server) Send(connID string, v any) error {
	s.connsMu.Lock()
	conn, ok := s.conns[connID]
	s.connsMu.Unlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close implements Sender by closing one connection's transport. The
// read loop in handleWS observes the resulting error and runs its
// normal cleanup (registry removal, cli-detached transition).
func (s *Server) Close(connID string) error {
	s.connsMu.Lock()
	conn, ok := s.conns[connID]
	s.connsMu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close(websocket.StatusPolicyViolation, "evicted")
}

// GracefulShutdown notifies every live connection of an impending
// restart and stops the registry's heartbeat sweeper, mirroring the
// broadcast-then-shutdown pattern this relay family uses for planned
// restarts. It does not close the WebSocket transports itself.
func (s *Server) GracefulShutdown(ctx context.Context) {
	s.connsMu.Lock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.connsMu.Unlock()

	for _, id := range ids {
		_ = s.Send(id, map[string]string{"type": "relay.restart"})
	}
	s.registry.Close()
}
