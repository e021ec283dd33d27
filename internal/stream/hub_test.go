package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var hello Message
	if err := ws.ReadJSON(&hello); err != nil || hello.Type != "connected" {
		t.Fatalf("expected welcome, got %+v %v", hello, err)
	}
	return ws
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHubBroadcastAndFilter(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	all := dial(t, base)
	defer all.Close()
	only := dial(t, base+"?call_id=conv-2")
	defer only.Close()
	waitClients(t, h, 2)

	h.Publish(Message{Type: "started", CallID: "conv-1"})
	h.Publish(Message{Type: "ended", CallID: "conv-2"})

	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m Message
	if err := all.ReadJSON(&m); err != nil || m.CallID != "conv-1" {
		t.Fatalf("expected conv-1 first, got %+v %v", m, err)
	}
	if err := all.ReadJSON(&m); err != nil || m.CallID != "conv-2" {
		t.Fatalf("expected conv-2 second, got %+v %v", m, err)
	}

	_ = only.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := only.ReadJSON(&m); err != nil || m.Type != "ended" || m.CallID != "conv-2" {
		t.Fatalf("expected only the filtered call, got %+v %v", m, err)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	h := NewHub(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	defer srv.Close()

	ws := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	waitClients(t, h, 1)
	ws.Close()
	waitClients(t, h, 0)
}
