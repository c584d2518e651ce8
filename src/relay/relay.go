// Package relay fans the event stream out to real-time websocket subscribers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"txn-saga/src/broker"
	"txn-saga/src/contracts"
	"txn-saga/src/logger"
	"txn-saga/src/schema"
)

// ErrMalformedFrame is returned for client frames that are not a valid subscribe request.
var ErrMalformedFrame = errors.New("malformed client frame")

// DedupeWindow is how many recent event ids the relay remembers.
const DedupeWindow = 1024

// Subscriber consumes a topic for a fixed consumer group.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan broker.Message, error)
}

// Relay consumes txn.events and pushes matching events to live clients.
type Relay struct {
	consumer  Subscriber
	registry  *Registry
	validator *schema.Validator
	logger    logger.Logger

	seenMu sync.Mutex
	seen   map[string]struct{}
	ring   []string
	next   int
}

// NewRelay creates a relay with an empty registry.
func NewRelay(consumer Subscriber, log logger.Logger) *Relay {
	return &Relay{
		consumer:  consumer,
		registry:  NewRegistry(),
		validator: schema.MustNewValidator(),
		logger:    log,
		seen:      make(map[string]struct{}, DedupeWindow),
		ring:      make([]string, DedupeWindow),
	}
}

// Registry returns the live client registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// Run consumes txn.events until ctx is cancelled or the subscription ends.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("[Relay] Starting...")

	msgChan, err := r.consumer.Subscribe(ctx, contracts.TopicEvents)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicEvents, err)
	}

	r.logger.Info("[Relay] Listening for events on '%s' topic...", contracts.TopicEvents)

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				r.logger.Info("[Relay] Message channel closed, shutting down")
				return nil
			}
			if err := r.HandleMessage(msg); err != nil {
				r.logger.Warn("[Relay] Skipping event at offset %d: %v", msg.Offset, err)
			}

		case <-ctx.Done():
			r.logger.Info("[Relay] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// HandleMessage validates one event and queues it for every matching client.
// Delivery never blocks; a client with a full buffer misses the event.
func (r *Relay) HandleMessage(msg broker.Message) error {
	env, err := r.validator.DecodeEnvelope(msg.Value)
	if err != nil {
		return err
	}

	if !r.markSeen(env.ID) {
		r.logger.Debug("[Relay] Duplicate event %s ignored", env.ID)
		return nil
	}

	frame, err := json.Marshal(contracts.ServerFrame{Type: contracts.FrameTypeEvent, Data: msg.Value})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	delivered := 0
	for _, c := range r.registry.Snapshot() {
		if !c.Matches(env) {
			continue
		}
		if c.Deliver(frame) {
			delivered++
		} else {
			r.logger.Warn("[Relay] Dropped %s for client %s", env.ID, c.ID())
		}
	}

	r.logger.Debug("[Relay] %s %s delivered to %d client(s)", env.Type, env.TransactionID, delivered)
	return nil
}

// markSeen records id and reports whether it was new.
func (r *Relay) markSeen(id string) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()

	if _, ok := r.seen[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.next] = id
	r.next = (r.next + 1) % len(r.ring)
	r.seen[id] = struct{}{}
	return true
}

// HandleClientFrame applies a client's subscribe request. A malformed frame is
// logged and leaves the current filter untouched.
func (r *Relay) HandleClientFrame(c *Client, raw []byte) error {
	var frame contracts.ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.logger.Warn("[Relay] Malformed frame from client %s: %v", c.ID(), err)
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.Action != contracts.ActionSubscribe {
		r.logger.Warn("[Relay] Unknown action %q from client %s", frame.Action, c.ID())
		return fmt.Errorf("%w: unknown action %q", ErrMalformedFrame, frame.Action)
	}

	sub := frame.Subscription()
	c.Subscribe(sub)
	r.logger.Info("[Relay] Client %s subscribed (userId=%q, transactionId=%q)", c.ID(), sub.UserID, sub.TransactionID)
	return nil
}

// Close disconnects every live client.
func (r *Relay) Close() {
	r.registry.CloseAll()
}
