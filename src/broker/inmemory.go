package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryBroker is a single-partition, in-process implementation of Broker and Admin.
// Topics retain every published message, and each consumer group keeps its own
// offset, so a group subscribing late still sees the topic from the beginning.
type InMemoryBroker struct {
	mu     sync.Mutex
	topics map[string]*memTopic
	groups map[string]*memGroup // topic:groupID -> offset state
	notify chan struct{}        // closed and replaced on every publish
	done   chan struct{}
	closed bool
}

type memTopic struct {
	records []Message
}

type memGroup struct {
	offset int
	active bool
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		topics: make(map[string]*memTopic),
		groups: make(map[string]*memGroup),
		notify: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Publish appends a message to the topic, creating the topic if needed.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	t := b.topicLocked(topic)
	payload := make([]byte, len(value))
	copy(payload, value)
	t.records = append(t.records, Message{
		Topic:     topic,
		Key:       key,
		Value:     payload,
		Offset:    int64(len(t.records)),
		Partition: 0,
		Timestamp: time.Now().UnixMilli(),
	})

	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Subscribe starts delivering the topic to groupID from the group's current offset.
// Only one live subscription per topic and group is allowed.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	groupKey := fmt.Sprintf("%s:%s", topic, groupID)
	g, ok := b.groups[groupKey]
	if !ok {
		g = &memGroup{}
		b.groups[groupKey] = g
	}
	if g.active {
		return nil, fmt.Errorf("consumer already exists for topic %s and group %s", topic, groupID)
	}
	g.active = true

	msgChan := make(chan Message, 100)
	go b.deliverLoop(ctx, topic, g, msgChan)

	return msgChan, nil
}

func (b *InMemoryBroker) deliverLoop(ctx context.Context, topic string, g *memGroup, msgChan chan<- Message) {
	defer func() {
		b.mu.Lock()
		g.active = false
		b.mu.Unlock()
		close(msgChan)
	}()

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		var pending []Message
		if t, ok := b.topics[topic]; ok && g.offset < len(t.records) {
			pending = append(pending, t.records[g.offset:]...)
		}
		wait := b.notify
		b.mu.Unlock()

		for _, msg := range pending {
			select {
			case msgChan <- msg:
				b.mu.Lock()
				g.offset++
				b.mu.Unlock()
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}

		if len(pending) == 0 {
			select {
			case <-wait:
			case <-ctx.Done():
				return
			case <-b.done:
				return
			}
		}
	}
}

// CreateTopic registers an empty topic.
func (b *InMemoryBroker) CreateTopic(ctx context.Context, topic string, partitions int32, replicationFactor int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, exists := b.topics[topic]; exists {
		return fmt.Errorf("%w: %s", ErrTopicExists, topic)
	}
	b.topics[topic] = &memTopic{}
	return nil
}

// ListTopics returns the sorted topic names.
func (b *InMemoryBroker) ListTopics(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Messages returns a copy of everything published to topic so far.
func (b *InMemoryBroker) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.records))
	copy(out, t.records)
	return out
}

// Close stops all deliveries and rejects further calls.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	return nil
}

func (b *InMemoryBroker) topicLocked(topic string) *memTopic {
	t, ok := b.topics[topic]
	if !ok {
		t = &memTopic{}
		b.topics[topic] = t
	}
	return t
}
