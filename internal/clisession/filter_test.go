package clisession

import "testing"

func TestFilterPassesThroughWhenNotBlocked(t *testing.T) {
	cfg := FilterConfig{}
	in := []byte("hello world")
	got := Filter(cfg, in)
	if got.Blocked {
		t.Fatal("expected not blocked")
	}
	if string(got.Data) != string(in) {
		t.Fatalf("expected passthrough, got %q", got.Data)
	}
}

func TestFilterDropsCtrlCByDefault(t *testing.T) {
	cfg := DefaultFilterConfig()
	got := Filter(cfg, []byte("helloworld"))
	if !got.Blocked {
		t.Fatal("expected blocked")
	}
	if string(got.Data) != "helloworld" {
		t.Fatalf("expected ctrl-c stripped, got %q", got.Data)
	}
	if len(got.BlockedSignals) != 1 || got.BlockedSignals[0] != "SIGINT" {
		t.Fatalf("expected [SIGINT], got %v", got.BlockedSignals)
	}
}

func TestFilterDropsCtrlDByDefault(t *testing.T) {
	cfg := DefaultFilterConfig()
	got := Filter(cfg, []byte{'a', 0x04, 'b'})
	if string(got.Data) != "ab" {
		t.Fatalf("expected ctrl-d stripped, got %q", got.Data)
	}
	if len(got.BlockedSignals) != 1 || got.BlockedSignals[0] != "EOF" {
		t.Fatalf("expected [EOF], got %v", got.BlockedSignals)
	}
}

func TestFilterAllowsCtrlCWhenDisabled(t *testing.T) {
	cfg := FilterConfig{BlockCtrlC: false}
	got := Filter(cfg, []byte{0x03})
	if got.Blocked {
		t.Fatal("expected ctrl-c to pass when not configured as blocked")
	}
	if len(got.Data) != 1 || got.Data[0] != 0x03 {
		t.Fatalf("expected byte preserved, got %v", got.Data)
	}
}

func TestFilterExtraBlocked(t *testing.T) {
	cfg := FilterConfig{ExtraBlocked: []byte{'!'}}
	got := Filter(cfg, []byte("hi!there"))
	if string(got.Data) != "hithere" {
		t.Fatalf("expected '!' stripped, got %q", got.Data)
	}
}
