package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	return hub, cancel
}

func dialSession(t *testing.T, hub *Hub, sessionID string, replay []*Event) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Subscribe(w, r, sessionID, replay)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn, srv
}

func waitForSubscriber(t *testing.T, hub *Hub, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount(sessionID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) *Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	return &ev
}

func TestPublishReachesSessionSubscriber(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	conn, srv := dialSession(t, hub, "sess_1", nil)
	defer srv.Close()
	defer func() { _ = conn.Close() }()
	waitForSubscriber(t, hub, "sess_1")

	hub.Publish(&Event{Type: "step_completed", SessionID: "sess_1", Timestamp: time.Now()})

	ev := readEvent(t, conn)
	if ev.Type != "step_completed" || ev.SessionID != "sess_1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestPublishIsolatedBySession(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	conn, srv := dialSession(t, hub, "sess_a", nil)
	defer srv.Close()
	defer func() { _ = conn.Close() }()
	waitForSubscriber(t, hub, "sess_a")

	hub.Publish(&Event{Type: "session_started", SessionID: "sess_other"})
	hub.Publish(&Event{Type: "session_completed", SessionID: "sess_a"})

	ev := readEvent(t, conn)
	if ev.SessionID != "sess_a" {
		t.Fatalf("received another session's event: %+v", ev)
	}
}

func TestReplayDeliveredBeforeLiveEvents(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	replay := []*Event{
		{Type: "session_started", SessionID: "sess_r"},
		{Type: "session_completed", SessionID: "sess_r"},
	}
	conn, srv := dialSession(t, hub, "sess_r", replay)
	defer srv.Close()
	defer func() { _ = conn.Close() }()

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	if first.Type != "session_started" || second.Type != "session_completed" {
		t.Fatalf("replay out of order: %s, %s", first.Type, second.Type)
	}
}

func expectClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestTerminalEventClosesStream(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	conn, srv := dialSession(t, hub, "sess_t", nil)
	defer srv.Close()
	defer func() { _ = conn.Close() }()
	waitForSubscriber(t, hub, "sess_t")

	hub.Publish(&Event{Type: "step_completed", SessionID: "sess_t", Timestamp: time.Now()})
	hub.Publish(&Event{Type: "session_completed", SessionID: "sess_t", Timestamp: time.Now(), Terminal: true})

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	if first.Type != "step_completed" || second.Type != "session_completed" {
		t.Fatalf("events out of order: %s, %s", first.Type, second.Type)
	}

	// The terminal event ends the stream; the server closes the connection.
	expectClose(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("sess_t") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber still registered after terminal event")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReplayedTerminalEventClosesStream(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	// The replay exceeds the live buffer size so long traces must not
	// wedge the subscribe path.
	replay := make([]*Event, 0, clientBufSize+10)
	for i := 0; i < clientBufSize+9; i++ {
		replay = append(replay, &Event{Type: "step_completed", SessionID: "sess_fin"})
	}
	replay = append(replay, &Event{Type: "session_failed", SessionID: "sess_fin", Terminal: true})

	conn, srv := dialSession(t, hub, "sess_fin", replay)
	defer srv.Close()
	defer func() { _ = conn.Close() }()

	for i := 0; i < len(replay)-1; i++ {
		if ev := readEvent(t, conn); ev.Type != "step_completed" {
			t.Fatalf("event %d: got %s, want step_completed", i, ev.Type)
		}
	}
	if ev := readEvent(t, conn); ev.Type != "session_failed" {
		t.Fatalf("last replayed event: got %s, want session_failed", ev.Type)
	}

	expectClose(t, conn)
}

func TestHeartbeatEventEmitted(t *testing.T) {
	old := heartbeatInterval
	heartbeatInterval = 50 * time.Millisecond
	defer func() { heartbeatInterval = old }()

	hub, cancel := newTestHub(t)
	defer cancel()

	conn, srv := dialSession(t, hub, "sess_hb", nil)
	defer srv.Close()
	defer func() { _ = conn.Close() }()
	waitForSubscriber(t, hub, "sess_hb")

	ev := readEvent(t, conn)
	if ev.Type != EventHeartbeat {
		t.Fatalf("got %s, want %s", ev.Type, EventHeartbeat)
	}
	if ev.SessionID != "sess_hb" || ev.Timestamp.IsZero() {
		t.Fatalf("heartbeat missing session or timestamp: %+v", ev)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub, cancel := newTestHub(t)

	conn, srv := dialSession(t, hub, "sess_x", nil)
	defer srv.Close()
	defer func() { _ = conn.Close() }()
	waitForSubscriber(t, hub, "sess_x")

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // closed as expected
		}
	}
}

func TestSubscriberCountTracksDisconnect(t *testing.T) {
	hub, cancel := newTestHub(t)
	defer cancel()

	conn, srv := dialSession(t, hub, "sess_c", nil)
	defer srv.Close()
	waitForSubscriber(t, hub, "sess_c")

	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("sess_c") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
