package pairing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeSidecar acks every command and emits scripted events.
func fakeSidecar(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		state := SessionState{HandshakeTopic: "topic-1"}
		for {
			var frame bridgeFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Type {
			case "create":
				if frame.Session != nil {
					state = *frame.Session
				}
				_ = conn.WriteJSON(bridgeFrame{Type: "ack", ID: frame.ID, OK: true, Session: &state})
				if frame.URI != "" {
					state.PeerMeta = &Peer{Name: "TestDapp", URL: "https://dapp.example"}
					_ = conn.WriteJSON(bridgeFrame{Type: "event", Event: EventPairingRequested, Session: &state})
				}
			case "approve":
				state.Connected = true
				state.Accounts = frame.Approval.Accounts
				state.ChainID = frame.Approval.ChainID
				_ = conn.WriteJSON(bridgeFrame{Type: "ack", ID: frame.ID, OK: true, Session: &state})
				_ = conn.WriteJSON(bridgeFrame{Type: "event", Event: EventConnected, Session: &state})
				_ = conn.WriteJSON(bridgeFrame{Type: "event", Event: EventPeerRequest, Request: &PeerRequest{ID: 7, Method: "eth_sendTransaction"}})
				_ = conn.WriteJSON(bridgeFrame{Type: "event", Event: EventError, Error: "relay hiccup"})
			case "update":
				_ = conn.WriteJSON(bridgeFrame{Type: "ack", ID: frame.ID, OK: false, Error: "not connected"})
			case "kill", "reject":
				_ = conn.WriteJSON(bridgeFrame{Type: "ack", ID: frame.ID, OK: true})
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func nextEvent(t *testing.T, ch Channel) Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatalf("events closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestBridgeChannelLifecycle(t *testing.T) {
	srv := fakeSidecar(t)
	defer srv.Close()

	f, err := NewBridgeFactory(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("NewBridgeFactory() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := f.Create(ctx, CreateParams{URI: "wc:abc@1?bridge=https%3A%2F%2Fbridge.example&key=00"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ch.Connected() {
		t.Fatalf("fresh channel should not be connected")
	}

	ev := nextEvent(t, ch)
	if ev.Type != EventPairingRequested || ev.Session.PeerMeta == nil || ev.Session.PeerMeta.Name != "TestDapp" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	if err := ch.Approve(ctx, Approval{Accounts: []string{"0xCAFE"}, ChainID: 1}); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if ev := nextEvent(t, ch); ev.Type != EventConnected || !ev.Session.Connected {
		t.Fatalf("expected connected event, got %+v", ev)
	}
	if ev := nextEvent(t, ch); ev.Type != EventPeerRequest || ev.Request == nil || ev.Request.Method != "eth_sendTransaction" {
		t.Fatalf("expected peer request, got %+v", ev)
	}
	ev = nextEvent(t, ch)
	if ev.Type != EventError || !errors.Is(ev.Err, ErrChannel) {
		t.Fatalf("expected channel error, got %+v", ev)
	}

	if err := ch.Update(ctx, Approval{Accounts: []string{"0xBEEF"}, ChainID: 1}); !errors.Is(err, ErrChannel) {
		t.Fatalf("Update() error = %v, want ErrChannel", err)
	}
	if got := ch.Session().Accounts; len(got) != 1 || got[0] != "0xCAFE" {
		t.Fatalf("accounts = %v, want [0xCAFE]", got)
	}

	if err := ch.Kill(ctx); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	select {
	case _, ok := <-ch.Events():
		if ok {
			// drain anything buffered before close
			for range ch.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel not closed after kill")
	}
}

func TestBridgeCreateRequiresExactlyOneSource(t *testing.T) {
	f, err := NewBridgeFactory("ws://127.0.0.1:1/none", nil)
	if err != nil {
		t.Fatalf("NewBridgeFactory() error = %v", err)
	}
	if _, err := f.Create(context.Background(), CreateParams{}); err == nil {
		t.Fatalf("Create() expected error without uri or session")
	}
	if _, err := f.Create(context.Background(), CreateParams{URI: "wc:x", Session: &SessionState{}}); err == nil {
		t.Fatalf("Create() expected error with both uri and session")
	}
}

func TestNewBridgeFactoryRejectsHTTPScheme(t *testing.T) {
	if _, err := NewBridgeFactory("http://localhost:8787", nil); err == nil {
		t.Fatalf("NewBridgeFactory() expected error for http scheme")
	}
}
