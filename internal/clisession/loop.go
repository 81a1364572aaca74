package clisession

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"

	"github.com/tyyzqmf/always-coder-sub001/internal/crypto"
	"github.com/tyyzqmf/always-coder-sub001/internal/logger"
	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

type inboundFrame struct {
	raw []byte
	err error
}

// readyLoop runs the READY state: it multiplexes PTY output, inbound
// relay frames, and PTY exit until the transport drops or the PTY
// exits. It returns true when the caller should reconnect (transport
// loss), false when it should stop entirely (ctx done or PTY exit).
func (m *Manager) readyLoop(ctx context.Context) bool {
	inbound := make(chan inboundFrame, 32)
	go func() {
		for {
			_, data, err := m.conn.Read(ctx)
			if err != nil {
				inbound <- inboundFrame{err: err}
				return
			}
			inbound <- inboundFrame{raw: data}
		}
	}()

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for chunk := range m.outbound {
			m.broadcastOutput(chunk)
		}
	}()
	defer func() {
		close(m.outbound)
		<-drainDone
		m.outbound = make(chan []byte, outboundQueueSize)
	}()

	for {
		select {
		case <-ctx.Done():
			return false

		case exit := <-m.proc.Exit:
			logger.Info("clisession: pty exited", "code", exit.Code, "signal", exit.Signal)
			m.exitInfo = &exit
			return false

		case chunk, ok := <-m.proc.Data:
			if !ok {
				continue
			}
			m.enqueueOutput(chunk)

		case f := <-inbound:
			if f.err != nil {
				return true
			}
			m.handleInboundFrame(f.raw)
		}
	}
}

// enqueueOutput never blocks the PTY reader: if the bounded outbound
// queue is full, the oldest buffered TERMINAL_OUTPUT chunk is dropped
// (spec.md §5). A dropped chunk is not resent to any peer.
func (m *Manager) enqueueOutput(chunk []byte) {
	select {
	case m.outbound <- chunk:
	default:
		select {
		case <-m.outbound:
			logger.Warn("clisession: outbound queue full, dropped oldest chunk")
		default:
		}
		select {
		case m.outbound <- chunk:
		default:
		}
	}
}

func (m *Manager) broadcastOutput(chunk []byte) {
	m.mu.Lock()
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	sessionID := m.sessionID
	m.mu.Unlock()

	for _, chunkPart := range protocol.ChunkPlaintext(chunk) {
		msg := protocol.Message{
			Kind:    protocol.KindTerminalOutput,
			Seq:     m.nextSeq(),
			Payload: encodePayload(protocol.TerminalOutputPayload{Data: string(chunkPart)}),
		}
		for _, p := range peers {
			env, err := p.secret.Encrypt(msg, sessionID)
			if err != nil {
				logger.Warn("clisession: encrypt output failed", "peer", p.connID, "err", err)
				continue
			}
			m.sendEnvelope(p.connID, env)
		}
	}
}

func (m *Manager) sendEnvelope(connID string, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), websocketWriteTimeout)
	defer cancel()
	if err := m.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		logger.Warn("clisession: send envelope failed", "peer", connID, "err", err)
	}
}

func (m *Manager) handleInboundFrame(raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Valid() {
		m.handleInboundEnvelope(env)
		return
	}

	var head struct {
		Type         string `json:"type"`
		PublicKey    string `json:"publicKey"`
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}

	switch head.Type {
	case protocol.KindWebConnected:
		m.onWebConnected(head.ConnectionID, head.PublicKey)
	case protocol.KindWebDisconnected:
		m.onWebDisconnected(head.ConnectionID)
	case protocol.KindError:
		logger.Warn("clisession: relay error", "raw", string(raw))
	}
}

// onWebConnected re-derives a fresh shared secret for the new peer
// (spec.md §4.8 per-web-peer keys) and emits STATE_SYNC under it.
func (m *Manager) onWebConnected(connID, publicKeyB64 string) {
	secret, err := crypto.Establish(m.keys, publicKeyB64)
	if err != nil {
		logger.Warn("clisession: establish secret failed", "peer", connID, "err", err)
		return
	}

	m.mu.Lock()
	m.peers[connID] = &peer{connID: connID, secret: secret}
	sessionID := m.sessionID
	cols, rows := m.cfg.Cols, m.cfg.Rows
	m.mu.Unlock()

	msg := protocol.Message{
		Kind:    protocol.KindStateSync,
		Seq:     m.nextSeq(),
		Payload: encodePayload(protocol.StateSyncPayload{Cols: cols, Rows: rows}),
	}
	env, err := secret.Encrypt(msg, sessionID)
	if err != nil {
		logger.Warn("clisession: encrypt state sync failed", "peer", connID, "err", err)
		return
	}
	m.sendEnvelope(connID, env)
}

func (m *Manager) onWebDisconnected(connID string) {
	m.mu.Lock()
	delete(m.peers, connID)
	m.mu.Unlock()
}

const decryptionFailureLimit = 5

// handleInboundEnvelope decrypts a web peer's envelope and, for
// TERMINAL_INPUT, applies the filter before writing to the PTY. The
// wire carries no origin connection id on Envelope (only the
// unauthenticated session id used for relay routing), so the manager
// tries each known peer's shared secret in turn; the one that opens
// the box is the sender.
func (m *Manager) handleInboundEnvelope(env protocol.Envelope) {
	m.mu.Lock()
	sessionID := m.sessionID
	var matched *peer
	var msg protocol.Message
	for _, cand := range m.peers {
		decoded, err := cand.secret.Decrypt(env)
		if err == nil {
			matched = cand
			msg = decoded
			cand.failureStreak = 0
			break
		}
	}
	m.mu.Unlock()

	if matched == nil {
		m.recordDecryptionFailureForAll()
		return
	}
	m.applyInboundMessage(matched, msg, sessionID)
}

func (m *Manager) applyInboundMessage(p *peer, msg protocol.Message, sessionID string) {
	if msg.SessionID != "" && msg.SessionID != sessionID {
		return // encrypted inner session id disagrees with clear-text routing
	}
	switch msg.Kind {
	case protocol.KindTerminalInput:
		var payload protocol.TerminalInputPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		result := Filter(m.cfg.Filter, []byte(payload.Data))
		if len(result.Data) > 0 && m.proc != nil {
			_, _ = m.proc.Write(result.Data)
		}
		if result.Blocked {
			m.sendBlockedSignal(p, result.BlockedSignals, sessionID)
		}
	case protocol.KindTerminalResize:
		var payload protocol.TerminalResizePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return
		}
		if m.proc != nil {
			_ = m.proc.Resize(payload.Cols, payload.Rows)
		}
	}
}

func (m *Manager) sendBlockedSignal(p *peer, signals []string, sessionID string) {
	msg := protocol.Message{
		Kind:    protocol.KindBlockedSignal,
		Seq:     m.nextSeq(),
		Payload: encodePayload(protocol.BlockedSignalPayload{Signals: signals}),
	}
	env, err := p.secret.Encrypt(msg, sessionID)
	if err != nil {
		return
	}
	m.sendEnvelope(p.connID, env)
}

// recordDecryptionFailureForAll is a conservative fallback: without a
// per-envelope origin connection id, a run of envelopes that fail
// every known peer's key increments every peer's failure streak, and
// any peer that crosses the limit is evicted.
func (m *Manager) recordDecryptionFailureForAll() {
	m.mu.Lock()
	var toEvict []*peer
	for _, p := range m.peers {
		p.failureStreak++
		if p.failureStreak >= decryptionFailureLimit {
			toEvict = append(toEvict, p)
		}
	}
	sessionID := m.sessionID
	m.mu.Unlock()

	for _, p := range toEvict {
		m.evictPeer(p, sessionID)
	}
}

func (m *Manager) evictPeer(p *peer, sessionID string) {
	m.mu.Lock()
	delete(m.peers, p.connID)
	m.mu.Unlock()

	req := protocol.PeerEvictRequest{
		Type:         protocol.KindPeerEvictRequest,
		SessionID:    sessionID,
		ConnectionID: p.connID,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), websocketWriteTimeout)
	defer cancel()
	_ = m.conn.Write(writeCtx, websocket.MessageText, data)
}
