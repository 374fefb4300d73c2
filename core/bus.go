package core

import (
	"sync"
	"time"
)

// Bus topics. Consumers subscribe by topic; the session log takes both.
const (
	TopicExecutions = "executions"
	TopicAurora     = "aurora"
)

// Event type names recorded in the session log and broadcast over the
// WebSocket. The pre/post step pair brackets every successful step.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"
	EventBlockedByAurora    = "blocked_by_aurora"

	EventPreStepAllow = "pre_step_allow"
	EventPreStepDeny  = "pre_step_deny"
	EventStepSuccess  = "step_success"
	EventStepFailed   = "step_failed"
	EventStepRetried  = "step_retried"
	EventPostStep     = "post_step"
	EventCheckpoint   = "checkpoint"

	EventAurora       = "aurora"
	EventNotification = "notification"
	EventChat         = "chat"
)

// Event is the unit carried on the bus. Seq is assigned at publish time and
// increases monotonically within an execution, so consumers can detect gaps
// and order is well defined even across topics.
type Event struct {
	Topic       string                 `json:"-"`
	Type        string                 `json:"type"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Seq         uint64                 `json:"seq,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Subscription is one consumer's bounded view of the bus. When the queue
// overflows the oldest event is dropped and the drop counter incremented;
// slow consumers never block publishers.
type Subscription struct {
	topics map[string]bool
	ch     chan Event

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// C returns the receive channel.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped reports how many events were discarded because the consumer fell
// behind. Reported to WebSocket clients on reconnect.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// Queue full: drop the oldest and try again.
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// EventBus is the in-process pub/sub medium connecting the executor, the
// Aurora monitor, the session log, and the gateway fan-out. Neither the
// executor nor Aurora holds a reference to the other; both meet here.
type EventBus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	seqs map[string]uint64
}

// DefaultSubscriptionBuffer is the per-subscriber queue size.
const DefaultSubscriptionBuffer = 256

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Subscription]struct{}),
		seqs: make(map[string]uint64),
	}
}

// Subscribe registers a consumer for the given topics (all topics when none
// are named) with the default queue size.
func (b *EventBus) Subscribe(topics ...string) *Subscription {
	return b.SubscribeBuffered(DefaultSubscriptionBuffer, topics...)
}

// SubscribeBuffered registers a consumer with an explicit queue size.
func (b *EventBus) SubscribeBuffered(buffer int, topics ...string) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	sub := &Subscription{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the consumer and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Publish stamps the event with a per-execution sequence number and fans it
// out to every matching subscriber. Publishing never blocks.
func (b *EventBus) Publish(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	if ev.ExecutionID != "" && ev.Seq == 0 {
		b.seqs[ev.ExecutionID]++
		ev.Seq = b.seqs[ev.ExecutionID]
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.wants(ev.Topic) {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
	return ev
}

// PublishAurora wraps an AuroraEvent on the aurora topic. The event payload
// is the JSON shape of the AuroraEvent itself so it round-trips.
func (b *EventBus) PublishAurora(ae AuroraEvent) Event {
	payload := map[string]interface{}{
		"type":      string(ae.Type),
		"reason":    ae.Reason,
		"timestamp": ae.Timestamp,
	}
	if ae.Payload != nil {
		payload["payload"] = ae.Payload
	}
	return b.Publish(Event{
		Topic:       TopicAurora,
		Type:        EventAurora,
		ExecutionID: ae.ExecutionID,
		Timestamp:   ae.Timestamp,
		Payload:     payload,
	})
}

// Close closes every subscription. Used during teardown after producers
// have stopped.
func (b *EventBus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
