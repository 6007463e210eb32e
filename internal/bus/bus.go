package bus

import (
	"sync"
	"time"

	"github.com/agentrium/runtime/internal/obs"
)

// LagEvent is delivered to a subscriber whose tap on some topic overflowed;
// the publisher is never blocked by it (§4.3.6).
type LagEvent struct {
	Topic   string
	Dropped int
	At      time.Time
}

// Stats is the bus's observability snapshot (§4.3.3 step 5, §4.3.5).
type Stats struct {
	TotalMessages      int64
	PerTopicCount      map[string]int64
	AvgPublishLatency  time.Duration
	LastActivity       time.Time
	ActiveSubscriptions int
	UptimeSeconds       int64
}

type tap struct {
	ch chan *BusMessage
}

type topicState struct {
	mu   sync.RWMutex
	taps map[string]*tap // keyed by subscriber agent id
}

// subscriberState is the bus's authoritative record of one subscriber's
// topic set and merged delivery endpoint (§3.2).
type subscriberState struct {
	agentID string
	merged  chan *BusMessage
	lag     chan LagEvent
	topics  map[string]chan struct{} // topic -> forwarder stop signal
}

// Bus is the Shared Bus: single-process, many-producer/many-consumer,
// topic-indexed (§4.3).
type Bus struct {
	capacity int
	retention time.Duration

	topicsMu sync.RWMutex
	topics   map[string]*topicState

	subsMu sync.RWMutex
	subs   map[string]*subscriberState

	statsMu sync.RWMutex
	stats   Stats

	historyMu sync.RWMutex
	history   []*BusMessage

	startedAt time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}

	log *obs.Logger
}

// Config bundles the Shared Bus's tunables (capacity, retention, cleanup cadence).
type Config struct {
	ChannelCapacity int
	HistoryRetention time.Duration
	CleanupInterval  time.Duration
}

// DefaultConfig matches the reference constants: capacity 1000, one-hour
// history retention, five-minute cleanup cadence (§4.3.1, §4.3.5).
func DefaultConfig() Config {
	return Config{
		ChannelCapacity:  1000,
		HistoryRetention: time.Hour,
		CleanupInterval:  5 * time.Minute,
	}
}

// New creates a Shared Bus and starts its background cleanup task.
func New(cfg Config, log *obs.Logger) *Bus {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1000
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if log == nil {
		log = obs.Default()
	}
	b := &Bus{
		capacity:  cfg.ChannelCapacity,
		retention: cfg.HistoryRetention,
		topics:    make(map[string]*topicState),
		subs:      make(map[string]*subscriberState),
		stats:     Stats{PerTopicCount: make(map[string]int64)},
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       log,
	}
	go b.cleanupTask(cfg.CleanupInterval)
	return b
}

// Close stops the cleanup task. Forwarders self-terminate as their
// subscribers unsubscribe; Close does not force that (§5 "Cancellation").
func (b *Bus) Close() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	<-b.doneCh
}

func (b *Bus) getOrCreateTopic(topic string) *topicState {
	b.topicsMu.Lock()
	defer b.topicsMu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		t = &topicState{taps: make(map[string]*tap)}
		b.topics[topic] = t
	}
	return t
}

// Endpoint is the caller-owned handle returned by Subscribe: a merged
// receive channel plus a lag-event channel, and an Unsubscribe method.
type Endpoint struct {
	bus     *Bus
	agentID string
	Messages <-chan *BusMessage
	Lag      <-chan LagEvent
}

// Subscribe implements §4.3.2: for each topic, create its channel if
// absent, spawn a forwarder, and record the association.
func (b *Bus) Subscribe(agentID string, topics []string) *Endpoint {
	b.subsMu.Lock()
	sub, ok := b.subs[agentID]
	if !ok {
		sub = &subscriberState{
			agentID: agentID,
			merged:  make(chan *BusMessage, b.capacity),
			lag:     make(chan LagEvent, 64),
			topics:  make(map[string]chan struct{}),
		}
		b.subs[agentID] = sub
		b.statsMu.Lock()
		b.stats.ActiveSubscriptions++
		b.statsMu.Unlock()
	}
	b.subsMu.Unlock()

	for _, topic := range topics {
		b.subscribeTopic(sub, topic)
	}

	return &Endpoint{bus: b, agentID: agentID, Messages: sub.merged, Lag: sub.lag}
}

func (b *Bus) subscribeTopic(sub *subscriberState, topic string) {
	b.subsMu.Lock()
	if _, already := sub.topics[topic]; already {
		b.subsMu.Unlock()
		return
	}
	stop := make(chan struct{})
	sub.topics[topic] = stop
	b.subsMu.Unlock()

	ts := b.getOrCreateTopic(topic)
	ts.mu.Lock()
	tp := &tap{ch: make(chan *BusMessage, b.capacity)}
	ts.taps[sub.agentID] = tp
	ts.mu.Unlock()

	go b.forward(sub, topic, tp, stop)
}

// forward reads one topic's tap and delivers non-targeted/self-targeted
// messages to the subscriber's merged endpoint (§4.3.2 step 3).
func (b *Bus) forward(sub *subscriberState, topic string, tp *tap, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-tp.ch:
			if !ok {
				return
			}
			if msg.ToAgent != nil && *msg.ToAgent != sub.agentID {
				continue
			}
			select {
			case sub.merged <- msg:
			case <-stop:
				return
			}
		}
	}
}

// Unsubscribe removes specific topics from the agent's association, or the
// entire agent when topics is empty (§4.3.2).
func (b *Bus) Unsubscribe(agentID string, topics []string) {
	b.subsMu.Lock()
	sub, ok := b.subs[agentID]
	if !ok {
		b.subsMu.Unlock()
		return
	}
	if len(topics) == 0 {
		for topic, stop := range sub.topics {
			close(stop)
			b.dropTap(topic, agentID)
		}
		delete(b.subs, agentID)
		b.statsMu.Lock()
		b.stats.ActiveSubscriptions--
		b.statsMu.Unlock()
		b.subsMu.Unlock()
		return
	}
	for _, topic := range topics {
		if stop, ok := sub.topics[topic]; ok {
			close(stop)
			delete(sub.topics, topic)
			b.dropTap(topic, agentID)
		}
	}
	b.subsMu.Unlock()
}

func (b *Bus) dropTap(topic, agentID string) {
	b.topicsMu.RLock()
	ts, ok := b.topics[topic]
	b.topicsMu.RUnlock()
	if !ok {
		return
	}
	ts.mu.Lock()
	delete(ts.taps, agentID)
	ts.mu.Unlock()
}

// Publish implements §4.3.3: validate, fan out to every live tap on the
// topic (dropping into the tail with a lag event on overflow, never
// blocking), append to history, and update stats.
func (b *Bus) Publish(msg *BusMessage) error {
	if msg.Topic == "" {
		return obs.Publish("topic must not be empty", nil)
	}
	start := time.Now()

	ts := b.getOrCreateTopic(msg.Topic)
	ts.mu.RLock()
	taps := make(map[string]*tap, len(ts.taps))
	for agentID, tp := range ts.taps {
		taps[agentID] = tp
	}
	ts.mu.RUnlock()

	for agentID, tp := range taps {
		select {
		case tp.ch <- msg:
		default:
			b.reportLag(agentID, msg.Topic)
		}
	}

	b.historyMu.Lock()
	b.history = append(b.history, msg)
	b.historyMu.Unlock()

	latency := time.Since(start)
	b.statsMu.Lock()
	b.stats.TotalMessages++
	b.stats.PerTopicCount[msg.Topic]++
	if b.stats.AvgPublishLatency == 0 {
		b.stats.AvgPublishLatency = latency
	} else {
		b.stats.AvgPublishLatency = (b.stats.AvgPublishLatency + latency) / 2
	}
	b.stats.LastActivity = time.Now()
	b.statsMu.Unlock()

	return nil
}

func (b *Bus) reportLag(agentID, topic string) {
	b.subsMu.RLock()
	sub, ok := b.subs[agentID]
	b.subsMu.RUnlock()
	if !ok {
		return
	}
	event := LagEvent{Topic: topic, Dropped: 1, At: time.Now()}
	select {
	case sub.lag <- event:
	default:
	}
	b.log.WithFields(nil).WithField("agent_id", agentID).WithField("topic", topic).Warn("subscriber lagging, message dropped")
}

// ---- Convenience wrappers (§4.3.3 table) ----

// SendToAgent delivers a targeted message: priority 5, ttl 300s, no ack.
func (b *Bus) SendToAgent(from, to, topic string, payload interface{}) error {
	return b.Publish(newMessage(from, topic, strPtr(to), MessageRequest, payload, 5, intPtr(300), false))
}

// Broadcast delivers an untargeted message: priority 3, ttl 600s, no ack.
func (b *Bus) Broadcast(from, topic string, payload interface{}) error {
	return b.Publish(newMessage(from, topic, nil, MessageInfo, payload, 3, intPtr(600), false))
}

// SendAlert delivers an untargeted alert: caller-supplied priority, ttl 3600s, requires ack.
func (b *Bus) SendAlert(from, topic string, payload interface{}, priority int) error {
	return b.Publish(newMessage(from, topic, nil, MessageAlert, payload, priority, intPtr(3600), true))
}

// Coordinate publishes on the fixed "coordination" topic: priority 7, ttl 1800s, requires ack.
func (b *Bus) Coordinate(from string, payload interface{}) error {
	return b.Publish(newMessage(from, TopicCoordination, nil, MessageCoordination, payload, 7, intPtr(1800), true))
}

// TriggerWorkflow publishes on the fixed "workflow" topic: priority 5, ttl 1200s, no ack.
func (b *Bus) TriggerWorkflow(from string, payload interface{}) error {
	return b.Publish(newMessage(from, TopicWorkflow, nil, MessageEvent, payload, 5, intPtr(1200), false))
}

// SendCoordinationResult publishes a coordination result on the fixed
// "coordination_result" topic, matching Coordinate's priority/ttl/ack.
func (b *Bus) SendCoordinationResult(from string, payload interface{}) error {
	return b.Publish(newMessage(from, TopicCoordinationResult, nil, MessageResponse, payload, 7, intPtr(1800), true))
}

// CompleteWorkflowStep publishes a workflow step result on the fixed
// "workflow_result" topic, matching TriggerWorkflow's priority/ttl/ack.
func (b *Bus) CompleteWorkflowStep(from string, payload interface{}) error {
	return b.Publish(newMessage(from, TopicWorkflowResult, nil, MessageEvent, payload, 5, intPtr(1200), false))
}

// GetHistory returns up to limit of the most recent messages on topic.
func (b *Bus) GetHistory(topic string, limit int) []*BusMessage {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	var matched []*BusMessage
	for i := len(b.history) - 1; i >= 0; i-- {
		if b.history[i].Topic == topic {
			matched = append(matched, b.history[i])
			if limit > 0 && len(matched) >= limit {
				break
			}
		}
	}
	return matched
}

// GetStats returns a snapshot of bus statistics, recomputing uptime from
// process start (the reference's own get_stats recomputes uptime as
// now - last_activity; this implementation uses wall-clock since New()
// instead, since the reference's formula underflows once the bus goes
// idle).
func (b *Bus) GetStats() Stats {
	b.statsMu.RLock()
	defer b.statsMu.RUnlock()

	snapshot := b.stats
	snapshot.PerTopicCount = make(map[string]int64, len(b.stats.PerTopicCount))
	for k, v := range b.stats.PerTopicCount {
		snapshot.PerTopicCount[k] = v
	}
	snapshot.UptimeSeconds = int64(time.Since(b.startedAt).Seconds())
	return snapshot
}

// ListTopics returns every topic that currently has a channel (live or
// not yet cleaned up).
func (b *Bus) ListTopics() []string {
	b.topicsMu.RLock()
	defer b.topicsMu.RUnlock()
	topics := make([]string, 0, len(b.topics))
	for t := range b.topics {
		topics = append(topics, t)
	}
	return topics
}

// GetTopicSubscribers returns the agent ids currently tapped into topic.
func (b *Bus) GetTopicSubscribers(topic string) []string {
	b.topicsMu.RLock()
	ts, ok := b.topics[topic]
	b.topicsMu.RUnlock()
	if !ok {
		return nil
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.taps))
	for agentID := range ts.taps {
		out = append(out, agentID)
	}
	return out
}

// cleanupTask implements §4.3.5: every interval, drop history older than
// retention and remove topics with zero live receivers.
func (b *Bus) cleanupTask(interval time.Duration) {
	defer close(b.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.pruneHistory()
			b.pruneEmptyTopics()
		}
	}
}

func (b *Bus) pruneHistory() {
	cutoff := time.Now().Add(-b.retention)
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	kept := b.history[:0]
	for _, msg := range b.history {
		if msg.Timestamp.After(cutoff) {
			kept = append(kept, msg)
		}
	}
	b.history = kept
}

func (b *Bus) pruneEmptyTopics() {
	b.topicsMu.Lock()
	defer b.topicsMu.Unlock()
	for name, ts := range b.topics {
		ts.mu.RLock()
		empty := len(ts.taps) == 0
		ts.mu.RUnlock()
		if empty {
			delete(b.topics, name)
		}
	}
}
