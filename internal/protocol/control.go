package protocol

import "encoding/json"

// ControlFrame is the generic shape of a plaintext control frame: a
// "type" discriminator plus kind-specific fields carried in Raw.
// Frame and Envelope are distinguished by checking the Envelope
// invariants first (Valid()); anything else is treated as a control
// frame and re-unmarshalled into the specific struct below.
type ControlFrame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// SessionCreate is sent CLI->relay to open a new session.
type SessionCreate struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
}

// SessionReconnect is sent CLI->relay to rebind an existing session's
// CLI slot after a transport loss.
type SessionReconnect struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
}

// SessionJoin is sent web->relay to attach to an existing session.
type SessionJoin struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	PublicKey string `json:"publicKey"`
}

// SessionUpdate patches session metadata; owner-only.
type SessionUpdate struct {
	Type          string  `json:"type"`
	SessionID     string  `json:"sessionId"`
	InstanceLabel *string `json:"instanceLabel,omitempty"`
}

// SessionListRequest asks the relay for the caller's sessions.
type SessionListRequest struct {
	Type            string `json:"type"`
	IncludeInactive bool   `json:"includeInactive"`
}

// SessionInfoRequest asks the relay for one session's metadata.
type SessionInfoRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SessionDeleteRequest asks the relay to close and forget a session;
// owner-only.
type SessionDeleteRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// Ping is a liveness probe; the relay replies Pong.
type Ping struct {
	Type string `json:"type"`
}

// PeerEvictRequest is sent CLI->relay to drop one web connection after
// repeated decryption failures (SPEC_FULL.md §6).
type PeerEvictRequest struct {
	Type         string `json:"type"`
	SessionID    string `json:"sessionId"`
	ConnectionID string `json:"connectionId"`
}

// SessionCreated is the relay's reply to a successful SessionCreate.
type SessionCreated struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	WSEndpoint string `json:"wsEndpoint"`
}

// SessionReconnected is the relay's reply to a successful SessionReconnect.
type SessionReconnected struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// SessionListResponse answers SessionListRequest.
type SessionListResponse struct {
	Type     string        `json:"type"`
	Sessions []SessionInfo `json:"sessions"`
}

// SessionInfoResponse answers SessionInfoRequest.
type SessionInfoResponse struct {
	Type    string      `json:"type"`
	Session SessionInfo `json:"session"`
}

// SessionInfo is the client-facing view of a session record.
type SessionInfo struct {
	SessionID     string   `json:"sessionId"`
	State         string   `json:"state"`
	Command       string   `json:"command,omitempty"`
	Args          []string `json:"args,omitempty"`
	Cwd           string   `json:"cwd,omitempty"`
	InstanceLabel string   `json:"instanceLabel,omitempty"`
	WebPeerCount  int      `json:"webPeerCount"`
	CreatedAt     int64    `json:"createdAt"`
	LastActiveAt  int64    `json:"lastActiveAt"`
}

// Pong answers Ping.
type Pong struct {
	Type string `json:"type"`
}

// ErrorFrame carries a taxonomy code plus a human-readable message.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an ErrorFrame with Type pre-filled.
func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: KindError, Code: code, Message: message}
}

// WebConnected notifies the CLI that a web peer joined.
type WebConnected struct {
	Type         string `json:"type"`
	PublicKey    string `json:"publicKey"`
	ConnectionID string `json:"connectionId"`
}

// WebDisconnected notifies the CLI that a web peer left.
type WebDisconnected struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// CLIConnected notifies web peers that the CLI is bound.
type CLIConnected struct {
	Type string `json:"type"`
}

// CLIDisconnected notifies web peers that the CLI detached.
type CLIDisconnected struct {
	Type string `json:"type"`
}
