package clisession

import (
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	b := NewBackoff()
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i, w, got)
		}
	}
}

func TestBackoffExhaustsAfterTenAttempts(t *testing.T) {
	b := NewBackoff()
	for i := 0; i < 10; i++ {
		if b.Exhausted() {
			t.Fatalf("should not be exhausted before attempt %d", i)
		}
		b.Next()
	}
	if !b.Exhausted() {
		t.Fatal("expected exhausted after 10 attempts")
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != 1000*time.Millisecond {
		t.Fatalf("expected reset to restart at base delay, got %v", got)
	}
}
