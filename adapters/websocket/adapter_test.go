package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"playkit/core"
	"playkit/realtime"
)

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	wsURL := "ws" + url[len("http"):] // convert http->ws
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	return conn
}

func waitSubscribers(t *testing.T, hub *realtime.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", hub.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server.URL)
	defer conn.Close()
	waitSubscribers(t, hub, 1)

	ev := core.NewEvent(core.FeatureLevels, "level_up", "alice", map[string]int{"new_level": 2})
	hub.Broadcast(context.Background(), ev)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}

	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.UserID != "alice" || received.Type != "level_up" {
		t.Fatalf("unexpected event: %+v", received)
	}
}

func TestHandlerFiltersByUser(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server.URL+"?user=bob")
	defer conn.Close()
	waitSubscribers(t, hub, 1)

	hub.Broadcast(context.Background(), core.NewEvent(core.FeaturePoints, "points_awarded", "alice", nil))
	hub.Broadcast(context.Background(), core.NewEvent(core.FeaturePoints, "points_awarded", "bob", nil))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	var received core.Event
	if err := json.Unmarshal(msg, &received); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if received.UserID != "bob" {
		t.Fatalf("filter leaked event for %s", received.UserID)
	}
}

func TestHandlerUnsubscribesOnClose(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub))
	defer server.Close()

	conn := dial(t, server.URL)
	waitSubscribers(t, hub, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription leaked after client close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	hub := realtime.NewHub()
	server := httptest.NewServer(Handler(hub, WithCheckOrigin(func(r *http.Request) bool {
		return r.Header.Get("Origin") == "https://game.example"
	})))
	defer server.Close()
	wsURL := "ws" + server.URL[len("http"):]

	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://game.example"}})
	if err != nil {
		t.Fatalf("dial allowed origin: %v", err)
	}
	conn.Close()
}
