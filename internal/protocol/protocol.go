// Package protocol defines the wire format shared by the relay and every
// client: message kinds, the envelope shape, and the constants that govern
// framing, heartbeats, TTLs and backoff.
package protocol

import "time"

// Control message kinds sent from a peer to the relay.
const (
	KindSessionCreate       = "SESSION_CREATE"
	KindSessionReconnect    = "SESSION_RECONNECT"
	KindSessionJoin         = "SESSION_JOIN"
	KindSessionUpdate       = "SESSION_UPDATE"
	KindSessionListRequest  = "SESSION_LIST_REQUEST"
	KindSessionInfoRequest  = "SESSION_INFO_REQUEST"
	KindSessionDeleteRequest = "SESSION_DELETE_REQUEST"
	KindPing                = "PING"
	// KindPeerEvictRequest is a supplemented control kind (not in the
	// base wire set): the CLI asks the relay to drop one misbehaving
	// web connection after repeated decryption failures (spec.md §7,
	// scenario S6), without closing the rest of the session.
	KindPeerEvictRequest = "PEER_EVICT_REQUEST"
)

// Control message kinds sent from the relay to a peer.
const (
	KindSessionCreated      = "SESSION_CREATED"
	KindSessionReconnected  = "SESSION_RECONNECTED"
	KindSessionListResponse = "SESSION_LIST_RESPONSE"
	KindSessionInfoResponse = "SESSION_INFO_RESPONSE"
	KindPong                = "PONG"
	KindError               = "ERROR"
	KindWebConnected        = "web:connected"
	KindWebDisconnected     = "web:disconnected"
	KindCLIConnected        = "cli:connected"
	KindCLIDisconnected     = "cli:disconnected"
)

// Encrypted inner kinds, carried as the plaintext of an Envelope.
const (
	KindTerminalOutput = "TERMINAL_OUTPUT"
	KindTerminalInput  = "TERMINAL_INPUT"
	KindTerminalResize = "TERMINAL_RESIZE"
	KindStateSync      = "STATE_SYNC"
	KindBlockedSignal  = "BLOCKED_SIGNAL"
)

// Error codes carried in ERROR{code,message} frames.
const (
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeSessionExpired    = "SESSION_EXPIRED"
	ErrCodeSessionFull       = "SESSION_FULL"
	ErrCodeInvalidPublicKey  = "INVALID_PUBLIC_KEY"
	ErrCodeEncryptionFailed  = "ENCRYPTION_FAILED"
	ErrCodeDecryptionFailed  = "DECRYPTION_FAILED"
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// Protocol-wide constants (spec.md §4.2).
const (
	Version = 1

	MaxFrameBytes = 64 * 1024
	// ChunkPlaintextBytes keeps room for envelope/JSON overhead under
	// MaxFrameBytes once the chunk is base64'd and sealed.
	ChunkPlaintextBytes = 48 * 1024

	HeartbeatInterval = 30 * time.Second
	HeartbeatTimeout  = 90 * time.Second

	SessionTTL  = 24 * time.Hour
	CacheTTL    = time.Hour
	MaxCacheLen = 1000

	ReconnectBaseDelay = time.Second
	ReconnectMaxDelay  = 30 * time.Second
	MaxReconnectAttempts = 10

	SessionIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	SessionIDLength   = 6
)

// Envelope is the authenticated-encrypted wire frame (spec.md §3, §4.1).
// SessionID is clear-text routing metadata only; it is not authenticated
// and MUST NOT be trusted by a peer without comparing it to the
// encrypted inner Message's own SessionID field.
type Envelope struct {
	Version    int    `json:"version"`
	SessionID  string `json:"sessionId"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	SentAt     int64  `json:"sentAt"`
}

// Valid reports whether e carries the required envelope shape.
func (e Envelope) Valid() bool {
	return e.Version == Version && e.SessionID != "" && len(e.Nonce) == 24 && len(e.Ciphertext) > 0
}

// Message is the inner plaintext carried inside an Envelope.
type Message struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   RawPayload      `json:"payload,omitempty"`
	Seq       uint64          `json:"seq"`
}

// RawPayload defers payload decoding to the kind-specific struct the
// caller expects (TerminalOutput, TerminalResize, ...).
type RawPayload = []byte

// TerminalOutputPayload is the payload of a TERMINAL_OUTPUT message.
type TerminalOutputPayload struct {
	Data string `json:"data"`
}

// TerminalInputPayload is the payload of a TERMINAL_INPUT message.
type TerminalInputPayload struct {
	Data string `json:"data"`
}

// TerminalResizePayload is the payload of a TERMINAL_RESIZE message.
type TerminalResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// StateSyncPayload is the payload of a STATE_SYNC message.
type StateSyncPayload struct {
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
	OutputHash string `json:"outputHash,omitempty"`
}

// BlockedSignalPayload is the payload of a BLOCKED_SIGNAL message.
type BlockedSignalPayload struct {
	Signals []string `json:"signals"`
}

// ChunkPlaintext splits data into chunks small enough that a sealed
// envelope carrying one chunk stays comfortably under MaxFrameBytes.
func ChunkPlaintext(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := ChunkPlaintextBytes
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
