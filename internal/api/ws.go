package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/obs"
	"github.com/gorilla/websocket"
)

// insightTopics is the §6.4 processing-lifecycle event set this runtime
// exposes over /insight: the eight economy phases plus cycle completion
// and strategy reallocation — the coordination-loop analogue of the
// reference's per-user-message classification/handler lifecycle.
var insightTopics = []string{
	"market_analysis", "investment_analysis", "business_strategy", "financial_planning",
	"airdrop_marketing", "user_engagement", "sales_analysis", "growth_assessment",
	bus.TopicCycleCompleted, bus.TopicStrategyReallocation,
}

// insightEvent is the JSON shape delivered to /insight clients: a type
// tag, a correlation identity, and a timestamp, per §6.4.
type insightEvent struct {
	Type          string      `json:"type"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload,omitempty"`
}

func eventTypeFor(msg *bus.BusMessage) string {
	switch msg.Topic {
	case bus.TopicCycleCompleted:
		return "processing_completed"
	case bus.TopicStrategyReallocation:
		return "handler_completed"
	default:
		if msg.ToAgent != nil {
			return "handler_routing"
		}
		return "handler_started"
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize: 1024, WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// insightHub fans Shared Bus traffic on insightTopics out to every
// connected /insight client, fire-and-forget: a slow or disconnected
// client never blocks the bus or its peers.
type insightHub struct {
	b   *bus.Bus
	log *obs.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan insightEvent

	endpoint *bus.Endpoint
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newInsightHub(b *bus.Bus, log *obs.Logger) *insightHub {
	return &insightHub{b: b, log: log, clients: make(map[*websocket.Conn]chan insightEvent)}
}

func (h *insightHub) start() {
	h.endpoint = h.b.Subscribe("insight-ws", insightTopics)
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.relay()
}

func (h *insightHub) stop() {
	if h.stopCh == nil {
		return
	}
	close(h.stopCh)
	<-h.doneCh
	h.b.Unsubscribe("insight-ws", insightTopics)

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]chan insightEvent)
	h.mu.Unlock()
}

func (h *insightHub) relay() {
	defer close(h.doneCh)
	for {
		select {
		case <-h.stopCh:
			return
		case msg, ok := <-h.endpoint.Messages:
			if !ok {
				return
			}
			event := insightEvent{
				Type: eventTypeFor(msg), CorrelationID: msg.ID,
				Timestamp: msg.Timestamp, Payload: msg.Payload,
			}
			h.broadcast(event)
		case <-h.endpoint.Lag:
			// Dropped messages only thin out an already best-effort stream.
		}
	}
}

func (h *insightHub) broadcast(event insightEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, queue := range h.clients {
		select {
		case queue <- event:
		default:
			h.log.WithFields(nil).WithField("client", conn.RemoteAddr().String()).Warn("insight client queue full, dropping event")
		}
	}
}

// handleUpgrade upgrades a request to /insight?client_id=... and streams
// insight events to it until the client disconnects.
func (h *insightHub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithFields(nil).WithField("error", err.Error()).Warn("insight websocket upgrade failed")
		return
	}

	queue := make(chan insightEvent, 64)
	h.mu.Lock()
	h.clients[conn] = queue
	h.mu.Unlock()

	h.log.WithFields(nil).WithField("client_id", clientID).Info("insight client connected")

	go h.readLoop(conn)
	h.writeLoop(conn, queue)
}

// readLoop drains and discards client frames purely to notice a close.
func (h *insightHub) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.disconnect(conn)
			return
		}
	}
}

func (h *insightHub) writeLoop(conn *websocket.Conn, queue chan insightEvent) {
	for event := range queue {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.disconnect(conn)
			return
		}
	}
}

func (h *insightHub) disconnect(conn *websocket.Conn) {
	h.mu.Lock()
	queue, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(queue)
	}
	h.mu.Unlock()
	conn.Close()
}

func withTimeoutShutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
