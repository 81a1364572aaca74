package clisession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/tyyzqmf/always-coder-sub001/internal/crypto"
	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

func freshSessionID() (string, error) {
	return crypto.GenerateSessionID()
}

func (m *Manager) dialURL() string {
	if m.cfg.Token == "" {
		return m.cfg.ServerURL
	}
	sep := "?"
	if contains(m.cfg.ServerURL, "?") {
		sep = "&"
	}
	return m.cfg.ServerURL + sep + "token=" + m.cfg.Token
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// connectAndHandshake dials the relay and sends SESSION_CREATE (first
// run) or SESSION_RECONNECT (reattach), awaiting the matching reply.
func (m *Manager) connectAndHandshake(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, m.dialURL(), nil)
	if err != nil {
		return fmt.Errorf("clisession: dial: %w", err)
	}

	sessionID := m.SessionID()
	if sessionID == "" {
		sessionID, err = freshSessionID()
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "")
			return err
		}
	}

	var frame any
	if m.SessionID() == "" {
		frame = protocol.SessionCreate{
			Type:      protocol.KindSessionCreate,
			SessionID: sessionID,
			PublicKey: m.keys.PublicKeyBase64(),
		}
	} else {
		frame = protocol.SessionReconnect{
			Type:      protocol.KindSessionReconnect,
			SessionID: sessionID,
			PublicKey: m.keys.PublicKeyBase64(),
		}
	}

	data, err := json.Marshal(frame)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return err
	}
	if err := conn.Write(dialCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("clisession: send handshake: %w", err)
	}

	_, reply, err := conn.Read(dialCtx)
	if err != nil {
		return fmt.Errorf("clisession: read handshake reply: %w", err)
	}

	var head struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(reply, &head); err != nil {
		return fmt.Errorf("clisession: malformed handshake reply: %w", err)
	}
	switch head.Type {
	case protocol.KindSessionCreated, protocol.KindSessionReconnected:
		// ok
	case protocol.KindError:
		return fmt.Errorf("clisession: handshake rejected: %s: %s", head.Code, head.Message)
	default:
		return fmt.Errorf("clisession: unexpected handshake reply type %q", head.Type)
	}

	m.mu.Lock()
	m.sessionID = sessionID
	m.conn = conn
	m.mu.Unlock()
	return nil
}
