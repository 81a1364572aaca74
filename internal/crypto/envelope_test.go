package crypto

import (
	"testing"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

func pairedSecrets(t *testing.T) (*SharedSecret, *SharedSecret) {
	t.Helper()
	a, err := New()
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	sa, err := Establish(a, b.PublicKeyBase64())
	if err != nil {
		t.Fatalf("establish a->b: %v", err)
	}
	sb, err := Establish(b, a.PublicKeyBase64())
	if err != nil {
		t.Fatalf("establish b->a: %v", err)
	}
	return sa, sb
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sa, sb := pairedSecrets(t)

	msg := protocol.Message{Kind: protocol.KindTerminalOutput, Seq: 1}
	env, err := sa.Encrypt(msg, "ABCDEF")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := sb.Decrypt(env)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got.Kind != msg.Kind || got.Seq != msg.Seq {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.SessionID != "ABCDEF" {
		t.Fatalf("expected sessionId stamped in plaintext, got %q", got.SessionID)
	}
}

func TestTamperedCiphertextFailsDecrypt(t *testing.T) {
	sa, sb := pairedSecrets(t)
	env, err := sa.Encrypt(protocol.Message{Kind: protocol.KindPing}, "ABCDEF")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	env.Ciphertext[0] ^= 0xFF

	if _, err := sb.Decrypt(env); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestTamperedNonceFailsDecrypt(t *testing.T) {
	sa, sb := pairedSecrets(t)
	env, err := sa.Encrypt(protocol.Message{Kind: protocol.KindPing}, "ABCDEF")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	env.Nonce[0] ^= 0xFF

	if _, err := sb.Decrypt(env); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDistinctNoncesAndCiphertexts(t *testing.T) {
	sa, _ := pairedSecrets(t)
	msg := protocol.Message{Kind: protocol.KindPing}

	e1, err := sa.Encrypt(msg, "ABCDEF")
	if err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	e2, err := sa.Encrypt(msg, "ABCDEF")
	if err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}

	if string(e1.Nonce) == string(e2.Nonce) {
		t.Fatal("expected distinct nonces")
	}
	if string(e1.Ciphertext) == string(e2.Ciphertext) {
		t.Fatal("expected distinct ciphertexts")
	}
}

func TestEstablishRejectsInvalidPublicKey(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := Establish(a, "not-base64!!"); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
	}
	if _, err := Establish(a, "AAAA"); err != ErrInvalidPublicKey {
		t.Fatalf("expected ErrInvalidPublicKey for short key, got %v", err)
	}
}

func TestGenerateSessionIDAlphabetAndLength(t *testing.T) {
	seen := map[string]int{}
	for i := 0; i < 1000; i++ {
		id, err := GenerateSessionID()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(id) != protocol.SessionIDLength {
			t.Fatalf("expected length %d, got %d", protocol.SessionIDLength, len(id))
		}
		for _, c := range id {
			if !containsRune(protocol.SessionIDAlphabet, c) {
				t.Fatalf("character %q not in alphabet", c)
			}
		}
		seen[id]++
	}
	collisions := 0
	for _, n := range seen {
		if n > 1 {
			collisions += n - 1
		}
	}
	if collisions > 1 {
		t.Fatalf("expected at most 1 collision across 1000 ids, got %d", collisions)
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
