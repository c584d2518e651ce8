package relay

import (
	"sync"

	"txn-saga/src/contracts"
)

// ClientState is a real-time connection's lifecycle position.
type ClientState int

const (
	StateOpen ClientState = iota
	StateSubscribed
	StateClosed
)

func (s ClientState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendBuffer is the number of frames queued per connection before new frames are dropped.
const SendBuffer = 64

// Client is the relay's record of one live connection.
// Its filter is a single slot: each subscribe replaces the previous one.
type Client struct {
	id string

	mu     sync.Mutex
	state  ClientState
	filter contracts.Subscription

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates an open client with the receive-all filter.
func NewClient(id string) *Client {
	return &Client{
		id:    id,
		state: StateOpen,
		send:  make(chan []byte, SendBuffer),
		done:  make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Filter() contracts.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Subscribe replaces the filter. It is a no-op on a closed client.
func (c *Client) Subscribe(sub contracts.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.filter = sub
	c.state = StateSubscribed
}

// Matches reports whether env passes the client's filter.
func (c *Client) Matches(env contracts.EventEnvelope) bool {
	return c.Filter().Matches(env)
}

// Deliver queues frame without blocking. It returns false when the client is
// closed or its buffer is full; the frame is then dropped for this client only.
func (c *Client) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Outbound yields queued frames for the connection's writer.
func (c *Client) Outbound() <-chan []byte { return c.send }

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close marks the client closed and discards its filter.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.filter = contracts.Subscription{}
		c.mu.Unlock()
		close(c.done)
	})
}
