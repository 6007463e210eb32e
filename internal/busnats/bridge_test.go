package busnats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/obs"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &server.Options{Port: -1, NoLog: true, NoSigs: true}
	srv, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("new nats server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not become ready in time")
	}
	t.Cleanup(srv.Shutdown)

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestExposeTopicsMirrorsBusMessagesOntoNATS(t *testing.T) {
	nc := startTestNATS(t)
	b := bus.New(bus.DefaultConfig(), obs.New("busnats-test", "error", "text"))
	t.Cleanup(b.Close)

	br := New(b, nc, obs.New("busnats-test", "error", "text"))
	if err := br.ExposeTopics([]string{"market_analysis"}); err != nil {
		t.Fatalf("expose topics: %v", err)
	}
	t.Cleanup(br.Close)

	received := make(chan []byte, 1)
	sub, err := nc.Subscribe(outboundSubject("market_analysis"), func(msg *nats.Msg) {
		received <- msg.Data
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Broadcast("economy-loop", "market_analysis", map[string]interface{}{"hello": "world"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case data := <-received:
		var wire wireMessage
		if err := json.Unmarshal(data, &wire); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wire.Topic != "market_analysis" {
			t.Fatalf("unexpected topic: %q", wire.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mirrored nats message")
	}
}

func TestImportTopicRejectsCycleCompleted(t *testing.T) {
	nc := startTestNATS(t)
	b := bus.New(bus.DefaultConfig(), obs.New("busnats-test", "error", "text"))
	t.Cleanup(b.Close)

	br := New(b, nc, obs.New("busnats-test", "error", "text"))
	if err := br.ImportTopic(bus.TopicCycleCompleted); err == nil {
		t.Fatal("expected an error importing cycle_completed from outside the economy loop")
	}
}

func TestImportTopicRepublishesOntoBus(t *testing.T) {
	nc := startTestNATS(t)
	b := bus.New(bus.DefaultConfig(), obs.New("busnats-test", "error", "text"))
	t.Cleanup(b.Close)

	br := New(b, nc, obs.New("busnats-test", "error", "text"))
	if err := br.ImportTopic("external_events"); err != nil {
		t.Fatalf("import topic: %v", err)
	}
	t.Cleanup(br.Close)

	endpoint := b.Subscribe("listener", []string{"external_events"})
	defer b.Unsubscribe("listener", nil)

	payload, _ := json.Marshal(map[string]interface{}{"note": "hi"})
	if err := nc.Publish(inboundSubject("external_events"), payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-endpoint.Messages:
		if msg.Topic != "external_events" {
			t.Fatalf("unexpected topic: %q", msg.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for republished bus message")
	}
}
