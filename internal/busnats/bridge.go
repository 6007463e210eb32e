// Package busnats is the optional external wire adapter of §6.2: it
// exposes the in-process Shared Bus over NATS subjects, for operators who
// want to observe or inject bus traffic from outside this process. The
// in-process bus of §4.3 remains the coordination fabric; NATS here is
// purely a wire-format bridge, never a replacement transport.
package busnats

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/obs"
	"github.com/nats-io/nats.go"
)

const bridgeAgentID = "nats-bridge"

// outboundSubject is the NATS subject a bus topic's traffic mirrors onto.
func outboundSubject(topic string) string { return fmt.Sprintf("bus.%s", topic) }

// inboundSubject is the NATS subject external publishers use to inject a
// message onto the bus topic.
func inboundSubject(topic string) string { return fmt.Sprintf("bus.%s.inbound", topic) }

// Bridge mirrors Shared Bus traffic onto NATS subjects and, in the other
// direction, republishes externally-submitted NATS messages onto the bus.
type Bridge struct {
	b   *bus.Bus
	nc  *nats.Conn
	log *obs.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	endpoint *bus.Endpoint
	topics   []string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New wraps an already-connected NATS client over b.
func New(b *bus.Bus, nc *nats.Conn, log *obs.Logger) *Bridge {
	return &Bridge{b: b, nc: nc, log: log}
}

// wireMessage is the §6.2 nine-field wire shape.
type wireMessage struct {
	ID          string      `json:"id"`
	Timestamp   string      `json:"timestamp"`
	FromAgent   string      `json:"from_agent"`
	ToAgent     *string     `json:"to_agent,omitempty"`
	Topic       string      `json:"topic"`
	MessageType string      `json:"message_type"`
	Payload     interface{} `json:"payload"`
	Priority    int         `json:"priority"`
	TTLSeconds  *int        `json:"ttl_seconds,omitempty"`
	RequiresAck bool        `json:"requires_ack"`
}

func toWire(msg *bus.BusMessage) wireMessage {
	return wireMessage{
		ID: msg.ID, Timestamp: msg.Timestamp.Format("2006-01-02T15:04:05.999999999Z07:00"),
		FromAgent: msg.FromAgent, ToAgent: msg.ToAgent, Topic: msg.Topic,
		MessageType: string(msg.Type), Payload: msg.Payload, Priority: msg.Priority,
		TTLSeconds: msg.TTLSeconds, RequiresAck: msg.RequiresAck,
	}
}

// ExposeTopics subscribes to topics on the Shared Bus and mirrors every
// message onto its corresponding outbound NATS subject.
func (br *Bridge) ExposeTopics(topics []string) error {
	br.mu.Lock()
	if br.endpoint != nil {
		br.mu.Unlock()
		return obs.Publish("bridge already exposing topics; create a new Bridge to change the set", nil)
	}
	br.topics = topics
	br.endpoint = br.b.Subscribe(bridgeAgentID, topics)
	br.stopCh = make(chan struct{})
	br.doneCh = make(chan struct{})
	br.mu.Unlock()

	go br.relayOutbound()
	return nil
}

func (br *Bridge) relayOutbound() {
	defer close(br.doneCh)
	for {
		select {
		case <-br.stopCh:
			return
		case msg, ok := <-br.endpoint.Messages:
			if !ok {
				return
			}
			data, err := json.Marshal(toWire(msg))
			if err != nil {
				br.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to encode bus message for nats mirror")
				continue
			}
			if err := br.nc.Publish(outboundSubject(msg.Topic), data); err != nil {
				br.log.WithFields(nil).WithField("topic", msg.Topic).Warn("failed to publish to nats")
			}
		case lag, ok := <-br.endpoint.Lag:
			if !ok {
				continue
			}
			br.log.WithFields(nil).WithField("topic", lag.Topic).Warn("nats bridge subscriber lagging on shared bus")
		}
	}
}

// ImportTopic subscribes to topic's inbound NATS subject and republishes
// received payloads onto the Shared Bus as a broadcast from this bridge.
// Per §6.2, adapters must not publish onto cycle_completed from outside
// the Economy Loop.
func (br *Bridge) ImportTopic(topic string) error {
	if topic == bus.TopicCycleCompleted {
		return obs.Publish("adapters must not publish to cycle_completed from outside the economy loop", nil)
	}

	sub, err := br.nc.Subscribe(inboundSubject(topic), func(msg *nats.Msg) {
		var payload interface{}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			br.log.WithFields(nil).WithField("error", err.Error()).Warn("failed to decode inbound nats payload")
			return
		}
		if err := br.b.Broadcast(bridgeAgentID, topic, payload); err != nil {
			br.log.WithFields(nil).WithField("topic", topic).Warn("failed to republish inbound nats message onto shared bus")
		}
	})
	if err != nil {
		return obs.Publish("failed to subscribe to inbound nats subject", err)
	}

	br.mu.Lock()
	br.subs = append(br.subs, sub)
	br.mu.Unlock()
	return nil
}

// Close stops mirroring and unsubscribes from every NATS subject the
// bridge opened.
func (br *Bridge) Close() {
	br.mu.Lock()
	subs := br.subs
	endpoint := br.endpoint
	topics := br.topics
	stopCh := br.stopCh
	doneCh := br.doneCh
	br.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if endpoint != nil {
		close(stopCh)
		<-doneCh
		br.b.Unsubscribe(bridgeAgentID, topics)
	}
}
