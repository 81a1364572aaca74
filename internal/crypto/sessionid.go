package crypto

import (
	"crypto/rand"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

// GenerateSessionID draws protocol.SessionIDLength characters from
// protocol.SessionIDAlphabet, one random byte per character. Collisions
// are accepted at this layer; the session store rejects a collision on
// create and the caller retries with a new id.
func GenerateSessionID() (string, error) {
	alphabet := protocol.SessionIDAlphabet
	buf := make([]byte, protocol.SessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, protocol.SessionIDLength)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}
