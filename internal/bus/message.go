// Package bus implements the Shared Bus (§4.3): an in-process, topic-routed
// publish/subscribe fabric with targeted delivery, retention, and cleanup.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is one of the eight message kinds a BusMessage may carry (§3.1).
type MessageType string

const (
	MessageInfo         MessageType = "Info"
	MessageRequest      MessageType = "Request"
	MessageResponse     MessageType = "Response"
	MessageAlert        MessageType = "Alert"
	MessageCommand      MessageType = "Command"
	MessageEvent        MessageType = "Event"
	MessageHeartbeat    MessageType = "Heartbeat"
	MessageCoordination MessageType = "Coordination"
)

// Reserved topics adapters must not publish to from outside their owning
// component (§6.2).
const (
	TopicCoordination       = "coordination"
	TopicCoordinationResult = "coordination_result"
	TopicWorkflow           = "workflow"
	TopicWorkflowResult     = "workflow_result"
	TopicStrategyReallocation = "strategy_reallocation"
	TopicCycleCompleted     = "cycle_completed"
)

// BusMessage is the bus's immutable unit of delivery (§3.1). Once
// constructed it is never mutated; publish copies the pointer, not the
// struct, so every subscriber observes the same payload.
type BusMessage struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	FromAgent   string      `json:"from_agent"`
	ToAgent     *string     `json:"to_agent,omitempty"`
	Topic       string      `json:"topic"`
	Type        MessageType `json:"message_type"`
	Payload     interface{} `json:"payload"`
	Priority    int         `json:"priority"`
	TTLSeconds  *int        `json:"ttl_seconds,omitempty"`
	RequiresAck bool        `json:"requires_ack"`
}

// newMessage fills in the fields every publish path shares.
func newMessage(from, topic string, to *string, msgType MessageType, payload interface{}, priority int, ttl *int, requiresAck bool) *BusMessage {
	return &BusMessage{
		ID:          uuid.New().String(),
		Timestamp:   time.Now(),
		FromAgent:   from,
		ToAgent:     to,
		Topic:       topic,
		Type:        msgType,
		Payload:     payload,
		Priority:    priority,
		TTLSeconds:  ttl,
		RequiresAck: requiresAck,
	}
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }
