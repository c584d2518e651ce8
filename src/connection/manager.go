// Package connection owns the lifecycle of the broker connection: connect with
// retry, idempotent topic provisioning, and the producer and consumer handles
// handed to the rest of the process.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"txn-saga/src/broker"
	"txn-saga/src/logger"
)

// State is the connection lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	TopicsProvisioned
	ProducerReady
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case TopicsProvisioned:
		return "TopicsProvisioned"
	case ProducerReady:
		return "ProducerReady"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	DefaultAttempts = 30
	DefaultDelay    = 2000 * time.Millisecond
)

// Options configures Connect. Zero values fall back to the defaults.
type Options struct {
	Topics            []string
	Attempts          int
	Delay             time.Duration
	Partitions        int32
	ReplicationFactor int16
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Delay < 0 {
		o.Delay = DefaultDelay
	}
	if o.Partitions <= 0 {
		o.Partitions = 1
	}
	if o.ReplicationFactor <= 0 {
		o.ReplicationFactor = 1
	}
	return o
}

// Manager connects to the broker and issues handles bound to that connection.
type Manager struct {
	dialer Dialer
	opts   Options
	logger logger.Logger

	mu     sync.RWMutex
	state  State
	broker broker.Broker
}

// NewManager creates a disconnected Manager.
// A zero Options.Delay means no pause between attempts; use DefaultDelay explicitly for the standard cadence.
func NewManager(dialer Dialer, opts Options, log logger.Logger) *Manager {
	return &Manager{
		dialer: dialer,
		opts:   opts.withDefaults(),
		logger: log,
		state:  Disconnected,
	}
}

// Handles are the connection-bound capabilities returned by a successful Connect.
type Handles struct {
	Producer *Producer
	manager  *Manager
}

// CreateConsumer returns a consumer bound to groupID.
func (h *Handles) CreateConsumer(groupID string) *Consumer {
	return h.manager.CreateConsumer(groupID)
}

// Connect runs the connect-with-retry loop. Each attempt opens an admin
// connection, ensures every configured topic exists, then opens the producer.
// After the last failed attempt the Manager is Failed for good: sends fail with
// ErrNotConnected and later Connect calls return the same terminal error.
func (m *Manager) Connect(ctx context.Context) (*Handles, error) {
	m.mu.Lock()
	switch m.state {
	case ProducerReady:
		m.mu.Unlock()
		return m.handles(), nil
	case Failed:
		m.mu.Unlock()
		return nil, &ConnectError{Attempts: 0, Err: errors.New("manager already failed")}
	}
	m.mu.Unlock()

	var lastErr error
	attempt := 0
	for attempt < m.opts.Attempts {
		attempt++
		m.setState(Connecting)

		b, err := m.attempt(ctx)
		if err == nil {
			m.mu.Lock()
			m.broker = b
			m.state = ProducerReady
			m.mu.Unlock()
			m.logger.Info("[Broker] Connected after %d attempt(s), topics ready: %v", attempt, m.opts.Topics)
			return m.handles(), nil
		}

		lastErr = err
		m.logger.Warn("[Broker] Connect attempt %d/%d failed: %v", attempt, m.opts.Attempts, err)

		if attempt == m.opts.Attempts {
			break
		}
		if err := sleep(ctx, m.opts.Delay); err != nil {
			lastErr = err
			break
		}
	}

	m.setState(Failed)
	connErr := &ConnectError{Attempts: attempt, Err: lastErr}
	m.logger.Error("[Broker] Giving up, continuing without producer: %v", connErr)
	return nil, connErr
}

func (m *Manager) attempt(ctx context.Context) (broker.Broker, error) {
	admin, err := m.dialer.DialAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin connect: %w", err)
	}
	defer admin.Close()

	if err := m.ensureTopics(ctx, admin); err != nil {
		return nil, err
	}
	m.setState(TopicsProvisioned)

	b, err := m.dialer.DialBroker(ctx)
	if err != nil {
		return nil, fmt.Errorf("producer connect: %w", err)
	}
	return b, nil
}

func (m *Manager) ensureTopics(ctx context.Context, admin broker.Admin) error {
	for _, topic := range m.opts.Topics {
		err := admin.CreateTopic(ctx, topic, m.opts.Partitions, m.opts.ReplicationFactor)
		if errors.Is(err, broker.ErrTopicExists) {
			m.logger.Debug("[Broker] Topic %s already exists", topic)
			continue
		}
		if err != nil {
			return fmt.Errorf("provision topic %s: %w", topic, err)
		}
		m.logger.Info("[Broker] Created topic %s", topic)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) handles() *Handles {
	return &Handles{Producer: m.Producer(), manager: m}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Producer returns the send façade. It is usable before and after Connect;
// sends fail with ErrNotConnected while no producer handle exists.
func (m *Manager) Producer() *Producer {
	return &Producer{manager: m}
}

// CreateConsumer returns a consumer bound to groupID. It does not connect.
func (m *Manager) CreateConsumer(groupID string) *Consumer {
	return &Consumer{manager: m, groupID: groupID}
}

// Send encodes value and publishes it to channel. Strings and byte slices are
// sent as-is; anything else is JSON encoded. Broker errors are returned unchanged.
func (m *Manager) Send(ctx context.Context, channel, key string, value any) error {
	payload, err := Encode(value)
	if err != nil {
		return err
	}

	b := m.current()
	if b == nil {
		return ErrNotConnected
	}
	return b.Publish(ctx, channel, key, payload)
}

func (m *Manager) current() broker.Broker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.broker
}

// Close releases the producer connection. A ProducerReady manager returns to Disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.broker != nil {
		err = m.broker.Close()
		m.broker = nil
	}
	if m.state != Failed {
		m.state = Disconnected
	}
	return err
}

// Encode returns the wire form of value.
func Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return data, nil
	}
}

// Producer sends messages over the manager's connection.
type Producer struct {
	manager *Manager
}

// Send publishes value to channel with an optional partition key.
func (p *Producer) Send(ctx context.Context, channel, key string, value any) error {
	return p.manager.Send(ctx, channel, key, value)
}

// Ready reports whether a producer handle exists.
func (p *Producer) Ready() bool {
	return p.manager.current() != nil
}

// Consumer is a handle bound to one consumer group.
type Consumer struct {
	manager *Manager
	groupID string
}

// GroupID returns the bound consumer group.
func (c *Consumer) GroupID() string {
	return c.groupID
}

// Subscribe starts consuming topic for the bound group.
func (c *Consumer) Subscribe(ctx context.Context, topic string) (<-chan broker.Message, error) {
	b := c.manager.current()
	if b == nil {
		return nil, ErrNotConnected
	}
	return b.Subscribe(ctx, topic, c.groupID)
}
