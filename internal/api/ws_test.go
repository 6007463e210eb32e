package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentrium/runtime/internal/agentstate"
	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/memory"
	"github.com/gorilla/websocket"
)

func TestInsightHubStreamsPhaseEventsToConnectedClient(t *testing.T) {
	b := bus.New(bus.DefaultConfig(), testLog())
	t.Cleanup(b.Close)

	store, err := memory.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open persistent memory: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	_ = agentstate.New(store)

	hub := newInsightHub(b, testLog())
	hub.start()
	t.Cleanup(hub.stop)

	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/insight?client_id=test-client"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	time.Sleep(20 * time.Millisecond)
	if err := b.Broadcast("economy-loop", "market_analysis", map[string]interface{}{"phase": "market_analysis"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "handler_started") {
		t.Fatalf("expected a handler_started insight event, got %s", data)
	}
}

func (h *insightHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handleUpgrade(w, r)
}
