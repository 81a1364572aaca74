// Package crypto implements the end-to-end Envelope cryptography:
// X25519 key pairs, ECDH + HKDF key derivation, and XSalsa20-Poly1305
// authenticated encryption of protocol messages.
package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidPublicKey is returned when a peer's public key does not
// decode to exactly 32 bytes.
var ErrInvalidPublicKey = errors.New("crypto: invalid public key")

// KeyPair is an X25519 key pair used for the Envelope handshake.
type KeyPair struct {
	priv *ecdh.PrivateKey
}

// New generates a fresh X25519 key pair.
func New() (*KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key pair: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// FromSecret restores a key pair from a 32-byte seed (the raw X25519
// private scalar).
func FromSecret(seed []byte) (*KeyPair, error) {
	priv, err := ecdh.X25519().NewPrivateKey(seed)
	if err != nil {
		return nil, fmt.Errorf("crypto: restore key pair: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// PublicKeyBase64 returns the base64-encoded 32-byte public half.
func (k *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.priv.PublicKey().Bytes())
}

// SecretBase64 returns the base64-encoded private scalar, for
// persistence by the caller (the CLI decides whether/where to save it).
func (k *KeyPair) SecretBase64() string {
	return base64.StdEncoding.EncodeToString(k.priv.Bytes())
}

// Establish computes the Curve25519 Diffie-Hellman shared secret with
// a peer's base64-encoded public key and derives a SharedSecret via
// HKDF-SHA256.
func Establish(k *KeyPair, peerPublicBase64 string) (*SharedSecret, error) {
	raw, err := base64.StdEncoding.DecodeString(peerPublicBase64)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidPublicKey
	}
	peerKey, err := ecdh.X25519().NewPublicKey(raw)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	dh, err := k.priv.ECDH(peerKey)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return deriveSharedSecret(dh)
}
