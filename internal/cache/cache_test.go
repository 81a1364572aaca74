package cache

import (
	"testing"
	"time"

	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
)

func envelope(seq int) protocol.Envelope {
	return protocol.Envelope{
		Version:    protocol.Version,
		SessionID:  "ABCDEF",
		Nonce:      make([]byte, 24),
		Ciphertext: []byte{byte(seq)},
	}
}

func TestPushAndSnapshotFIFOOrder(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Push("ABCDEF", envelope(i))
	}
	got := c.Snapshot("ABCDEF")
	if len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.Envelope.Ciphertext[0] != byte(i) {
			t.Fatalf("expected FIFO order, entry %d had seq %d", i, e.Envelope.Ciphertext[0])
		}
	}
}

func TestEvictsPastMaxLen(t *testing.T) {
	c := New()
	for i := 0; i < protocol.MaxCacheLen+10; i++ {
		c.Push("ABCDEF", envelope(i % 256))
	}
	got := c.Snapshot("ABCDEF")
	if len(got) != protocol.MaxCacheLen {
		t.Fatalf("expected len capped at %d, got %d", protocol.MaxCacheLen, len(got))
	}
}

func TestEvictsPastTTL(t *testing.T) {
	s := &perSession{}
	s.entries = []Entry{
		{Envelope: envelope(1), ReceiptAt: time.Now().Add(-2 * time.Hour)},
		{Envelope: envelope(2), ReceiptAt: time.Now()},
	}
	got := s.snapshot(time.Now())
	if len(got) != 1 || got[0].Envelope.Ciphertext[0] != 2 {
		t.Fatalf("expected only the fresh entry to survive, got %+v", got)
	}
}

func TestPurgeClearsSession(t *testing.T) {
	c := New()
	c.Push("ABCDEF", envelope(1))
	c.Purge("ABCDEF")
	if got := c.Snapshot("ABCDEF"); len(got) != 0 {
		t.Fatalf("expected empty snapshot after purge, got %d entries", len(got))
	}
}
