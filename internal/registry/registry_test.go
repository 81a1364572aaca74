package registry

import (
	"testing"
	"time"
)

func TestBindAndMembers(t *testing.T) {
	r := New()
	defer r.Close()

	r.Open("c1")
	r.Bind("c1", "ABCDEF", RoleCLI, "")
	r.Open("w1")
	r.Bind("w1", "ABCDEF", RoleWeb, "")

	cli, web := r.Members("ABCDEF")
	if cli != "c1" {
		t.Fatalf("expected cli c1, got %q", cli)
	}
	if len(web) != 1 || web[0] != "w1" {
		t.Fatalf("expected web [w1], got %v", web)
	}
}

func TestRemoveClearsReverseIndex(t *testing.T) {
	r := New()
	defer r.Close()

	r.Open("c1")
	r.Bind("c1", "ABCDEF", RoleCLI, "")

	conn, wasCLI, ok := r.Remove("c1")
	if !ok || !wasCLI {
		t.Fatalf("expected removal marked as CLI, got wasCLI=%v ok=%v", wasCLI, ok)
	}
	if conn.ID != "c1" {
		t.Fatalf("unexpected connection: %+v", conn)
	}

	cli, web := r.Members("ABCDEF")
	if cli != "" || len(web) != 0 {
		t.Fatalf("expected session purged, got cli=%q web=%v", cli, web)
	}
}

func TestSweepEvictsStaleConnections(t *testing.T) {
	r := New()
	defer r.Close()

	r.Open("c1")
	r.Bind("c1", "ABCDEF", RoleCLI, "")

	var evicted []Evicted
	r.OnEviction(func(e Evicted) { evicted = append(evicted, e) })

	r.mu.Lock()
	r.conns["c1"].LastHeartbeat = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	got := r.sweepOnce(time.Now())
	if len(got) != 1 || got[0].Connection.ID != "c1" || !got[0].WasCLI {
		t.Fatalf("expected c1 evicted as cli, got %+v", got)
	}
	if len(evicted) != 1 {
		t.Fatalf("expected eviction handler invoked once, got %d", len(evicted))
	}
}
