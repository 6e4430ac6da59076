package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/lfarroco/claimchat/internal/bus"
	"github.com/lfarroco/claimchat/internal/model"
	"github.com/lfarroco/claimchat/internal/status"
)

// testServer accepts one websocket connection and exposes it for the test.
type testServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 1)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for websocket accept")
		return nil
	}
}

func (ts *testServer) push(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, frame); err != nil {
		t.Fatal(err)
	}
}

func newChannel(t *testing.T, ts *testServer) (*Channel, *bus.Bus, *status.Machine) {
	t.Helper()
	b := bus.New()
	m := status.NewMachine(b)
	c := NewChannel(ts.srv.URL, "tok", b, m, nil)
	t.Cleanup(c.Disconnect)
	return c, b, m
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestConnectAndInboundMessage(t *testing.T) {
	ts := newTestServer(t)
	c, b, m := newChannel(t, ts)

	ch, unsub := b.Subscribe("push.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
	waitEvent(t, ch, bus.KindPushConnected)

	server := ts.accept(t)
	ts.push(t, server, EventNewMessage, model.Message{
		ID: "srv-1", ConversationID: "c1", SenderID: "u2",
		Content: "hi", Timestamp: 100, Status: model.StatusDelivered,
	})

	evt := waitEvent(t, ch, bus.KindPushMessage)
	msg, ok := evt.Payload.(model.Message)
	if !ok {
		t.Fatalf("payload type = %T, want model.Message", evt.Payload)
	}
	if msg.ID != "srv-1" || msg.ConversationID != "c1" || msg.Content != "hi" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestConnectIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c, _, m := newChannel(t, ts)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Second connect while connected must be a silent no-op.
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("second connect errored: %v", err)
	}
	if m.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
}

func TestDialFailureReturnsDisconnected(t *testing.T) {
	b := bus.New()
	m := status.NewMachine(b)
	c := NewChannel("http://127.0.0.1:1", "tok", b, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("expected dial error")
	}
	if m.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED after failed dial", m.Current())
	}
}

func TestTypingAndPresenceEvents(t *testing.T) {
	ts := newTestServer(t)
	c, b, _ := newChannel(t, ts)

	ch, unsub := b.Subscribe("push.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	server := ts.accept(t)

	ts.push(t, server, EventTypingStart, TypingPayload{UserID: "u2", ConversationID: "c1", UserName: "Bruno"})
	evt := waitEvent(t, ch, bus.KindPushTypingStart)
	if p := evt.Payload.(TypingPayload); p.UserName != "Bruno" {
		t.Errorf("payload = %+v", p)
	}

	ts.push(t, server, EventUserStatusChange, StatusChangePayload{UserID: "u2", IsOnline: true})
	evt = waitEvent(t, ch, bus.KindPushPresence)
	if p := evt.Payload.(StatusChangePayload); !p.IsOnline || p.UserID != "u2" {
		t.Errorf("payload = %+v", p)
	}
}

func TestOutboundJoinConversation(t *testing.T) {
	ts := newTestServer(t)
	c, _, _ := newChannel(t, ts)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	server := ts.accept(t)

	if err := c.JoinConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := server.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != EventJoinConversation {
		t.Errorf("event = %q, want %q", env.Event, EventJoinConversation)
	}
	var payload map[string]string
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["conversationId"] != "c1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestServerCloseSignalsDisconnect(t *testing.T) {
	ts := newTestServer(t)
	c, b, m := newChannel(t, ts)

	ch, unsub := b.Subscribe("push.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	server := ts.accept(t)
	waitEvent(t, ch, bus.KindPushConnected)

	_ = server.Close(websocket.StatusGoingAway, "server restart")

	waitEvent(t, ch, bus.KindPushDisconnected)
	if m.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED after server close", m.Current())
	}
}

func TestMalformedFrameIsSkipped(t *testing.T) {
	ts := newTestServer(t)
	c, b, _ := newChannel(t, ts)

	ch, unsub := b.Subscribe("push.", 16)
	defer unsub()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	server := ts.accept(t)

	if err := server.Write(context.Background(), websocket.MessageText, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	// The loop must survive and keep delivering later frames.
	ts.push(t, server, EventNewMessage, model.Message{ID: "srv-2", ConversationID: "c1", Content: "still alive"})

	evt := waitEvent(t, ch, bus.KindPushMessage)
	if msg := evt.Payload.(model.Message); msg.ID != "srv-2" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	ts := newTestServer(t)
	c, _, _ := newChannel(t, ts)

	if err := c.JoinConversation(context.Background(), "c1"); err == nil {
		t.Error("join on disconnected channel should error")
	}
}
