// Package relay implements the Session Relay: dispatch (routing by
// role/session membership), the Auth Gate, and the HTTP/WS server that
// ties the Connection Registry, Session Store and Message Cache
// together (spec.md §4.6).
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tyyzqmf/always-coder-sub001/internal/cache"
	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
	"github.com/tyyzqmf/always-coder-sub001/internal/registry"
	"github.com/tyyzqmf/always-coder-sub001/internal/store"
)

// Sender delivers one outbound frame to one connection. Implemented by
// the transport layer (server.go); Dispatch never talks to a socket
// directly, so it is unit-testable without a real WebSocket.
type Sender interface {
	Send(connID string, v any) error
	// Close tears down one connection's transport, e.g. when the CLI
	// requests eviction of a misbehaving web peer.
	Close(connID string) error
}

// Dispatch routes inbound frames per spec.md §4.6. It holds no
// transport state of its own.
type Dispatch struct {
	Registry *registry.Registry
	Store    store.Store
	Cache    *cache.Cache
	Gate     *AuthGate
	Sender   Sender
	WSBase   string // e.g. "wss://relay.example.com/ws"
}

var errUnboundKind = errors.New("relay: kind not permitted on unbound connection")

// unboundAllowed lists the kinds an unbound connection may send
// (spec.md §4.6 rule 1).
var unboundAllowed = map[string]bool{
	protocol.KindSessionCreate:      true,
	protocol.KindSessionReconnect:   true,
	protocol.KindSessionJoin:        true,
	protocol.KindSessionListRequest: true,
	protocol.KindSessionInfoRequest: true,
	protocol.KindPing:               true,
}

// HandleFrame is the single entry point: one inbound transport message
// for one connection id.
func (d *Dispatch) HandleFrame(connID string, raw []byte) {
	if len(raw) > protocol.MaxFrameBytes {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "frame exceeds 64 KiB")
		return
	}

	d.Registry.Touch(connID)

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Valid() {
		d.handleEnvelope(connID, env)
		return
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "malformed frame")
		return
	}
	d.handleControl(connID, head.Type, raw)
}

func (d *Dispatch) handleControl(connID, kind string, raw []byte) {
	conn, _ := d.Registry.Get(connID)
	if conn.SessionID == "" && !unboundAllowed[kind] {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "connection not bound to a session")
		return
	}

	switch kind {
	case protocol.KindSessionCreate:
		d.handleCreate(connID, conn, raw)
	case protocol.KindSessionReconnect:
		d.handleReconnect(connID, conn, raw)
	case protocol.KindSessionJoin:
		d.handleJoin(connID, conn, raw)
	case protocol.KindSessionListRequest:
		d.handleList(connID, conn, raw)
	case protocol.KindSessionInfoRequest:
		d.handleInfo(connID, conn, raw)
	case protocol.KindSessionUpdate:
		d.handleUpdate(connID, conn, raw)
	case protocol.KindSessionDeleteRequest:
		d.handleDelete(connID, conn, raw)
	case protocol.KindPeerEvictRequest:
		d.handlePeerEvict(connID, conn, raw)
	case protocol.KindPing:
		_ = d.Sender.Send(connID, protocol.Pong{Type: protocol.KindPong})
	default:
		d.sendError(connID, protocol.ErrCodeInvalidMessage, fmt.Sprintf("unknown kind %q", kind))
	}
}

func (d *Dispatch) handleCreate(connID string, conn registry.Connection, raw []byte) {
	var req protocol.SessionCreate
	if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" || req.PublicKey == "" {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "sessionId and publicKey required")
		return
	}

	owner := ownerOf(conn)
	if _, err := d.Store.Create(req.SessionID, owner, req.PublicKey, connID, store.Meta{}); err != nil {
		d.sendError(connID, protocol.ErrCodeSessionFull, err.Error())
		return
	}
	d.Registry.Bind(connID, req.SessionID, registry.RoleCLI, conn.UserID)

	_ = d.Sender.Send(connID, protocol.SessionCreated{
		Type:       protocol.KindSessionCreated,
		SessionID:  req.SessionID,
		WSEndpoint: d.WSBase + "/" + req.SessionID,
	})
}

func (d *Dispatch) handleReconnect(connID string, conn registry.Connection, raw []byte) {
	var req protocol.SessionReconnect
	if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" || req.PublicKey == "" {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "sessionId and publicKey required")
		return
	}

	owner := ownerOf(conn)
	if _, err := d.Store.ReconnectCLI(req.SessionID, req.PublicKey, connID, owner); err != nil {
		d.replyStoreError(connID, err)
		return
	}
	d.Registry.Bind(connID, req.SessionID, registry.RoleCLI, conn.UserID)

	_ = d.Sender.Send(connID, protocol.SessionReconnected{
		Type:      protocol.KindSessionReconnected,
		SessionID: req.SessionID,
	})

	_, webConns := d.Registry.Members(req.SessionID)
	for _, w := range webConns {
		_ = d.Sender.Send(w, protocol.CLIConnected{Type: protocol.KindCLIConnected})
	}
}

func (d *Dispatch) handleJoin(connID string, conn registry.Connection, raw []byte) {
	var req protocol.SessionJoin
	if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" || req.PublicKey == "" {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "sessionId and publicKey required")
		return
	}

	sess, err := d.Store.Get(req.SessionID)
	if err != nil {
		d.replyStoreError(connID, err)
		return
	}
	if sess.State == store.StateClosed {
		d.sendError(connID, protocol.ErrCodeSessionNotFound, "session closed")
		return
	}

	if _, err := d.Store.JoinWeb(req.SessionID, connID); err != nil {
		d.replyStoreError(connID, err)
		return
	}
	d.Registry.Bind(connID, req.SessionID, registry.RoleWeb, conn.UserID)

	cliConn, _ := d.Registry.Members(req.SessionID)
	if cliConn != "" {
		_ = d.Sender.Send(cliConn, protocol.WebConnected{
			Type:         protocol.KindWebConnected,
			PublicKey:    req.PublicKey,
			ConnectionID: connID,
		})
		_ = d.Sender.Send(connID, protocol.CLIConnected{Type: protocol.KindCLIConnected})
	}

	// The relay does not replay d.Cache to this connection: a join
	// always presents a fresh ephemeral public key (§4.8), so any
	// cached ciphertexts were sealed under a different peer key and
	// would not decrypt here. The CLI bridges the gap itself with a
	// STATE_SYNC envelope under the freshly negotiated secret,
	// followed by live output (spec.md §9 design note).
}

func (d *Dispatch) handleList(connID string, conn registry.Connection, raw []byte) {
	var req protocol.SessionListRequest
	_ = json.Unmarshal(raw, &req)

	if conn.UserID == "" {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "authentication required")
		return
	}
	sessions, _ := d.Store.List(conn.UserID, req.IncludeInactive)
	infos := make([]protocol.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.ToInfo())
	}
	_ = d.Sender.Send(connID, protocol.SessionListResponse{
		Type:     protocol.KindSessionListResponse,
		Sessions: infos,
	})
}

func (d *Dispatch) handleInfo(connID string, conn registry.Connection, raw []byte) {
	var req protocol.SessionInfoRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "sessionId required")
		return
	}
	if conn.UserID == "" {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "authentication required")
		return
	}
	sess, err := d.Store.Get(req.SessionID)
	if err != nil {
		d.replyStoreError(connID, err)
		return
	}
	if sess.Owner != conn.UserID {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "not the session owner")
		return
	}
	_ = d.Sender.Send(connID, protocol.SessionInfoResponse{
		Type:    protocol.KindSessionInfoResponse,
		Session: sess.ToInfo(),
	})
}

func (d *Dispatch) handleUpdate(connID string, conn registry.Connection, raw []byte) {
	var req protocol.SessionUpdate
	if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "sessionId required")
		return
	}
	if conn.UserID == "" {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "authentication required")
		return
	}
	if _, err := d.Store.Update(req.SessionID, conn.UserID, req.InstanceLabel); err != nil {
		d.replyStoreError(connID, err)
	}
}

func (d *Dispatch) handleDelete(connID string, conn registry.Connection, raw []byte) {
	var req protocol.SessionDeleteRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "sessionId required")
		return
	}
	if conn.UserID == "" {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "authentication required")
		return
	}
	if err := d.Store.Delete(req.SessionID, conn.UserID); err != nil {
		d.replyStoreError(connID, err)
		return
	}
	// Purge immediately; in-flight fan-out works from its own copy of
	// the session's member list (SPEC_FULL.md §8).
	d.Cache.Purge(req.SessionID)
}

func (d *Dispatch) handlePeerEvict(connID string, conn registry.Connection, raw []byte) {
	var req protocol.PeerEvictRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.SessionID == "" || req.ConnectionID == "" {
		d.sendError(connID, protocol.ErrCodeInvalidMessage, "sessionId and connectionId required")
		return
	}
	cliConn, _ := d.Registry.Members(req.SessionID)
	if conn.Role != registry.RoleCLI || cliConn != connID {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "only the session's CLI may evict a peer")
		return
	}
	_ = d.Store.Leave(req.SessionID, req.ConnectionID)
	_ = d.Sender.Close(req.ConnectionID)
}

// handleEnvelope routes an encrypted payload per spec.md §4.6 rules 5-6.
func (d *Dispatch) handleEnvelope(connID string, env protocol.Envelope) {
	conn, ok := d.Registry.Get(connID)
	if !ok || conn.SessionID == "" {
		d.sendError(connID, protocol.ErrCodeUnauthorized, "connection not bound to a session")
		return
	}

	cliConn, webConns := d.Registry.Members(conn.SessionID)

	if conn.Role == registry.RoleCLI {
		if cliConn != connID {
			d.sendError(connID, protocol.ErrCodeSessionNotFound, "not the bound CLI")
			return
		}
		d.Cache.Push(conn.SessionID, env)
		for _, w := range webConns {
			_ = d.Sender.Send(w, env)
		}
		return
	}

	// Web -> CLI: not cached.
	if cliConn == "" {
		d.sendError(connID, protocol.ErrCodeSessionNotFound, "CLI not bound")
		return
	}
	_ = d.Sender.Send(cliConn, env)
}

func (d *Dispatch) sendError(connID, code, message string) {
	_ = d.Sender.Send(connID, protocol.NewError(code, message))
}

func (d *Dispatch) replyStoreError(connID string, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		d.sendError(connID, protocol.ErrCodeSessionNotFound, err.Error())
	case errors.Is(err, store.ErrSessionExpired):
		d.sendError(connID, protocol.ErrCodeSessionExpired, err.Error())
	case errors.Is(err, store.ErrSessionFull):
		d.sendError(connID, protocol.ErrCodeSessionFull, err.Error())
	case errors.Is(err, store.ErrUnauthorized):
		d.sendError(connID, protocol.ErrCodeUnauthorized, err.Error())
	default:
		d.sendError(connID, protocol.ErrCodeInvalidMessage, err.Error())
	}
}

func ownerOf(conn registry.Connection) string {
	if conn.UserID == "" {
		return "anonymous"
	}
	return conn.UserID
}

// NewConnectionID mints a fresh transport-assigned connection id.
func NewConnectionID() string {
	return uuid.NewString()
}
