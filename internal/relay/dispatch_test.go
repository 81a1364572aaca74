package relay

import (
	"encoding/json"
	"testing"

	"github.com/tyyzqmf/always-coder-sub001/internal/cache"
	"github.com/tyyzqmf/always-coder-sub001/internal/protocol"
	"github.com/tyyzqmf/always-coder-sub001/internal/registry"
	"github.com/tyyzqmf/always-coder-sub001/internal/store"
)

type fakeSender struct {
	sent map[string][]any
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[string][]any)} }

func (f *fakeSender) Send(connID string, v any) error {
	f.sent[connID] = append(f.sent[connID], v)
	return nil
}

func (f *fakeSender) Close(connID string) error { return nil }

func (f *fakeSender) last(connID string) any {
	xs := f.sent[connID]
	if len(xs) == 0 {
		return nil
	}
	return xs[len(xs)-1]
}

func newTestDispatch() (*Dispatch, *fakeSender, *registry.Registry) {
	reg := registry.New()
	sender := newFakeSender()
	d := &Dispatch{
		Registry: reg,
		Store:    store.NewMemStore(),
		Cache:    cache.New(),
		Sender:   sender,
		WSBase:   "wss://relay.test/ws",
	}
	return d, sender, reg
}

func TestUnboundConnectionOnlyAllowsListedKinds(t *testing.T) {
	d, sender, reg := newTestDispatch()
	defer reg.Close()
	reg.Open("c1")

	d.HandleFrame("c1", []byte(`{"type":"SESSION_UPDATE","sessionId":"ABCDEF"}`))

	errFrame, ok := sender.last("c1").(protocol.ErrorFrame)
	if !ok || errFrame.Code != protocol.ErrCodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED error, got %#v", sender.last("c1"))
	}
}

func TestCreateThenJoinThenEnvelopeFanOut(t *testing.T) {
	d, sender, reg := newTestDispatch()
	defer reg.Close()

	reg.Open("cli1")
	create, _ := json.Marshal(protocol.SessionCreate{Type: protocol.KindSessionCreate, SessionID: "ABCDEF", PublicKey: "pk-cli"})
	d.HandleFrame("cli1", create)

	created, ok := sender.last("cli1").(protocol.SessionCreated)
	if !ok || created.SessionID != "ABCDEF" {
		t.Fatalf("expected SessionCreated, got %#v", sender.last("cli1"))
	}

	reg.Open("web1")
	join, _ := json.Marshal(protocol.SessionJoin{Type: protocol.KindSessionJoin, SessionID: "ABCDEF", PublicKey: "pk-web"})
	d.HandleFrame("web1", join)

	wc, ok := sender.last("cli1").(protocol.WebConnected)
	if !ok || wc.ConnectionID != "web1" {
		t.Fatalf("expected WebConnected on cli1, got %#v", sender.last("cli1"))
	}

	env := protocol.Envelope{Version: protocol.Version, SessionID: "ABCDEF", Nonce: make([]byte, 24), Ciphertext: []byte("x")}
	raw, _ := json.Marshal(env)
	d.HandleFrame("cli1", raw)

	got, ok := sender.last("web1").(protocol.Envelope)
	if !ok || got.SessionID != "ABCDEF" {
		t.Fatalf("expected envelope forwarded to web1, got %#v", sender.last("web1"))
	}

	if entries := d.Cache.Snapshot("ABCDEF"); len(entries) != 1 {
		t.Fatalf("expected cli->web envelope cached, got %d entries", len(entries))
	}
}

func TestEnvelopeFromUnboundCLIIsRejected(t *testing.T) {
	d, sender, reg := newTestDispatch()
	defer reg.Close()
	reg.Open("cli1")

	env := protocol.Envelope{Version: protocol.Version, SessionID: "ABCDEF", Nonce: make([]byte, 24), Ciphertext: []byte("x")}
	raw, _ := json.Marshal(env)
	d.HandleFrame("cli1", raw)

	errFrame, ok := sender.last("cli1").(protocol.ErrorFrame)
	if !ok || errFrame.Code != protocol.ErrCodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %#v", sender.last("cli1"))
	}
}

func TestOversizeFrameRejected(t *testing.T) {
	d, sender, reg := newTestDispatch()
	defer reg.Close()
	reg.Open("c1")

	big := make([]byte, protocol.MaxFrameBytes+1)
	d.HandleFrame("c1", big)

	errFrame, ok := sender.last("c1").(protocol.ErrorFrame)
	if !ok || errFrame.Code != protocol.ErrCodeInvalidMessage {
		t.Fatalf("expected INVALID_MESSAGE, got %#v", sender.last("c1"))
	}
}

func TestListRequiresAuthentication(t *testing.T) {
	d, sender, reg := newTestDispatch()
	defer reg.Close()
	reg.Open("c1")

	list, _ := json.Marshal(protocol.SessionListRequest{Type: protocol.KindSessionListRequest})
	d.HandleFrame("c1", list)

	errFrame, ok := sender.last("c1").(protocol.ErrorFrame)
	if !ok || errFrame.Code != protocol.ErrCodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %#v", sender.last("c1"))
	}
}
