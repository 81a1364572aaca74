package clisession

import "testing"

func TestNewManagerStartsIdleWithKeys(t *testing.T) {
	m, err := New(Config{Command: "sh", Filter: DefaultFilterConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("expected StateIdle, got %v", m.State())
	}
	if m.keys.PublicKeyBase64() == "" {
		t.Fatal("expected a generated public key")
	}
	if m.cfg.Cols != 80 || m.cfg.Rows != 24 {
		t.Fatalf("expected default 80x24, got %dx%d", m.cfg.Cols, m.cfg.Rows)
	}
}

func TestEnqueueOutputDropsOldestWhenFull(t *testing.T) {
	m, err := New(Config{Command: "sh"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.outbound = make(chan []byte, 2)

	m.enqueueOutput([]byte("a"))
	m.enqueueOutput([]byte("b"))
	m.enqueueOutput([]byte("c")) // queue full of a,b -> drop a, keep b,c

	first := <-m.outbound
	second := <-m.outbound
	if string(first) != "b" || string(second) != "c" {
		t.Fatalf("expected [b c] after drop-oldest, got [%s %s]", first, second)
	}
}

func TestStateStringer(t *testing.T) {
	cases := map[State]string{
		StateIdle:          "idle",
		StateHandshaking:   "handshaking",
		StateReady:         "ready",
		StateDetached:      "detached",
		StateReconnecting:  "reconnecting",
		StateClosed:        "closed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
