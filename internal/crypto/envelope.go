package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

// ErrDecryptionFailed is returned when an envelope's MAC does not
// verify under the shared secret.
var ErrDecryptionFailed = errors.New("crypto: decryption failed")

const hkdfInfo = "always-coder-envelope"

// SharedSecret is the symmetric key derived from an X25519 ECDH
// exchange, used to seal and open Envelopes with XSalsa20-Poly1305
// (nacl secretbox) semantics.
type SharedSecret struct {
	key [32]byte
}

func deriveSharedSecret(dh []byte) (*SharedSecret, error) {
	var salt [32]byte // zero salt: both sides derive identically from dh alone
	kdf := hkdf.New(sha256.New, dh, salt[:], []byte(hkdfInfo))
	s := &SharedSecret{}
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, fmt.Errorf("crypto: derive shared secret: %w", err)
	}
	return s, nil
}

// Encrypt serializes msg to JSON, generates a fresh 24-byte nonce, and
// seals it under the shared secret. sessionID is stamped onto the
// returned Envelope's clear-text routing field and also copied into
// the plaintext Message so the receiver can detect mismatches.
func (s *SharedSecret) Encrypt(msg protocol.Message, sessionID string) (protocol.Envelope, error) {
	msg.SessionID = sessionID
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("crypto: marshal message: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return protocol.Envelope{}, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, plaintext, &nonce, &s.key)
	return protocol.Envelope{
		Version:    protocol.Version,
		SessionID:  sessionID,
		Nonce:      nonce[:],
		Ciphertext: sealed,
		SentAt:     time.Now().UnixMilli(),
	}, nil
}

// Decrypt opens env under the shared secret and parses the resulting
// JSON into a typed Message. Callers MUST compare the returned
// Message.SessionID against the session they believe they're in;
// env.SessionID is unauthenticated routing metadata only.
func (s *SharedSecret) Decrypt(env protocol.Envelope) (protocol.Message, error) {
	if len(env.Nonce) != 24 {
		return protocol.Message{}, ErrDecryptionFailed
	}
	var nonce [24]byte
	copy(nonce[:], env.Nonce)

	plaintext, ok := secretbox.Open(nil, env.Ciphertext, &nonce, &s.key)
	if !ok {
		return protocol.Message{}, ErrDecryptionFailed
	}

	var msg protocol.Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("crypto: unmarshal message: %w", err)
	}
	return msg, nil
}
