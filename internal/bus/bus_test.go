package bus

import (
	"testing"
	"time"

	"github.com/agentrium/runtime/internal/obs"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	b := New(DefaultConfig(), obs.New("bus-test", "error", "text"))
	t.Cleanup(b.Close)
	return b
}

func TestTargetedDelivery(t *testing.T) {
	b := testBus(t)
	a := b.Subscribe("A", []string{"x"})
	other := b.Subscribe("B", []string{"x"})

	if err := b.SendToAgent("controller", "A", "x", map[string]int{"n": 1}); err != nil {
		t.Fatalf("send_to_agent: %v", err)
	}

	select {
	case msg := <-a.Messages:
		if msg.Topic != "x" {
			t.Fatalf("expected topic x, got %s", msg.Topic)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("A did not observe the targeted message")
	}

	select {
	case <-other.Messages:
		t.Fatal("B observed a message targeted at A")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastUnderFilter(t *testing.T) {
	b := testBus(t)
	a := b.Subscribe("A", []string{"x", "y"})

	if err := b.Broadcast("controller", "y", map[string]int{"n": 2}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case msg := <-a.Messages:
		if msg.Topic != "y" {
			t.Fatalf("expected topic y, got %s", msg.Topic)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("A did not observe the broadcast message")
	}

	select {
	case msg := <-a.Messages:
		t.Fatalf("A observed an unexpected second message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishToEmptyTopicIsNotAnError(t *testing.T) {
	b := testBus(t)
	if err := b.Broadcast("controller", "nobody-listening", "payload"); err != nil {
		t.Fatalf("publish to empty topic should not error: %v", err)
	}
	history := b.GetHistory("nobody-listening", 10)
	if len(history) != 1 {
		t.Fatalf("expected history to retain the message, got %d entries", len(history))
	}
}

func TestFIFOWithinTopic(t *testing.T) {
	b := testBus(t)
	a := b.Subscribe("A", []string{"x"})

	for i := 0; i < 5; i++ {
		if err := b.Broadcast("controller", "x", i); err != nil {
			t.Fatalf("broadcast %d: %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-a.Messages:
			if msg.Payload.(int) != i {
				t.Fatalf("expected payload %d, got %v", i, msg.Payload)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestCoordinateAndWorkflowHelpersUseFixedTopics(t *testing.T) {
	b := testBus(t)
	a := b.Subscribe("A", []string{TopicCoordination, TopicWorkflow})

	if err := b.Coordinate("controller", "go"); err != nil {
		t.Fatalf("coordinate: %v", err)
	}
	if err := b.TriggerWorkflow("controller", "start"); err != nil {
		t.Fatalf("trigger_workflow: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-a.Messages:
			seen[msg.Topic] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timed out waiting for workflow/coordination messages")
		}
	}
	if !seen[TopicCoordination] || !seen[TopicWorkflow] {
		t.Fatalf("expected both fixed topics, got %v", seen)
	}
}

func TestLagReportingDoesNotBlockPublisher(t *testing.T) {
	cfg := Config{ChannelCapacity: 4, HistoryRetention: time.Hour, CleanupInterval: time.Hour}
	b := New(cfg, obs.New("bus-test", "error", "text"))
	defer b.Close()

	a := b.Subscribe("A", []string{"x"})

	const n = 50
	for i := 0; i < n; i++ {
		if err := b.Broadcast("controller", "x", i); err != nil {
			t.Fatalf("publish %d returned error, publisher should never block/fail: %v", i, err)
		}
	}

	select {
	case <-a.Lag:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected A to eventually observe a lag event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := testBus(t)
	a := b.Subscribe("A", []string{"x"})
	b.Unsubscribe("A", nil)

	if err := b.Broadcast("controller", "x", "after-unsub"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case msg, ok := <-a.Messages:
		if ok {
			t.Fatalf("unsubscribed agent should not receive messages, got %+v", msg)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGetTopicSubscribersAndListTopics(t *testing.T) {
	b := testBus(t)
	b.Subscribe("A", []string{"x"})
	b.Subscribe("B", []string{"x", "y"})

	subs := b.GetTopicSubscribers("x")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers on x, got %d", len(subs))
	}

	topics := b.ListTopics()
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", topics)
	}
}
