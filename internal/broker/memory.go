package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"campusdesk/internal/model"
)

type topicState struct {
	name    string
	subs    map[string]chan model.Event
	dropped atomic.Int64
}

type MemoryBroker struct {
	mu         sync.RWMutex
	topics     map[string]*topicState
	bufferSize int
}

func NewMemory(bufferSize int) *MemoryBroker {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &MemoryBroker{
		topics:     map[string]*topicState{},
		bufferSize: bufferSize,
	}
}

func (b *MemoryBroker) DeleteTopic(_ context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	for _, ch := range t.subs {
		close(ch)
	}
	delete(b.topics, topic)
	return nil
}

// Subscribe registers subscriberID on topic, creating the topic on first
// use. Subscribing twice returns the same channel.
func (b *MemoryBroker) Subscribe(_ context.Context, subscriberID, topic string) (<-chan model.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		t = &topicState{name: topic, subs: map[string]chan model.Event{}}
		b.topics[topic] = t
	}
	if ch, ok := t.subs[subscriberID]; ok {
		return ch, nil
	}
	ch := make(chan model.Event, b.bufferSize)
	t.subs[subscriberID] = ch
	return ch, nil
}

// Unsubscribe closes the subscriber's channel. Empty topics are dropped.
func (b *MemoryBroker) Unsubscribe(_ context.Context, subscriberID, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	if ch, ok := t.subs[subscriberID]; ok {
		close(ch)
		delete(t.subs, subscriberID)
	}
	if len(t.subs) == 0 {
		delete(b.topics, topic)
	}
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, evt model.Event) error {
	if evt.Topic == "" {
		return fmt.Errorf("missing topic")
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[evt.Topic]
	if !ok {
		return nil
	}
	for _, ch := range t.subs {
		select {
		case ch <- evt:
		default:
			t.dropped.Add(1)
		}
	}
	return nil
}

func (b *MemoryBroker) TopicStats(_ context.Context, topic string) (TopicStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[topic]
	if !ok {
		return TopicStats{Topic: topic}, nil
	}
	buffered := 0
	for _, ch := range t.subs {
		buffered += len(ch)
	}
	return TopicStats{
		Topic:        topic,
		Subscribers:  len(t.subs),
		BufferedMsgs: buffered,
		DroppedMsgs:  t.dropped.Load(),
	}, nil
}
