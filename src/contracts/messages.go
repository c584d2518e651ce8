// Package contracts defines message types exchanged over the broker and the real-time endpoint.
package contracts

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Command is a transfer request produced once by the ingress adapter.
// Published to: txn.commands
// Key: {transactionId}
type Command struct {
	TransactionID string          `json:"transactionId"`
	FromAccount   string          `json:"fromAccount,omitempty"`
	ToAccount     string          `json:"toAccount,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	UserID        string          `json:"userId"`
}

// EventType names a saga step outcome.
type EventType string

const (
	EventFundsReserved EventType = "txn.FundsReserved"
	EventFraudChecked  EventType = "txn.FraudChecked"
	EventCommitted     EventType = "txn.Committed"
	EventReversed      EventType = "txn.Reversed"
	EventNotified      EventType = "txn.Notified"
)

// EnvelopeVersion is the schema version stamped on every emitted envelope.
const EnvelopeVersion = 1

// EventEnvelope is one immutable entry of the event log.
// Published to: txn.events
// Key: {transactionId}
type EventEnvelope struct {
	// Globally unique event identifier.
	ID string `json:"id"`
	// Step outcome.
	Type EventType `json:"type"`
	// Envelope schema version.
	Version int `json:"version"`
	// Assignment time in epoch milliseconds. Non-decreasing within one saga run.
	TS int64 `json:"ts"`
	// Groups all events of one saga run.
	TransactionID string `json:"transactionId"`
	// Step specific fields. Every payload carries userId.
	Payload map[string]any `json:"payload"`
}

// UserID returns payload.userId, or "" when it is absent or not a string.
func (e EventEnvelope) UserID() string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload["userId"].(string)
	return s
}

// Subscription is a real-time client's filter. Both fields empty means receive everything.
type Subscription struct {
	UserID        string `json:"userId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// IsEmpty reports whether the filter selects every event.
func (s Subscription) IsEmpty() bool {
	return s.UserID == "" && s.TransactionID == ""
}

// Matches applies the relay match rule to an envelope.
func (s Subscription) Matches(e EventEnvelope) bool {
	if s.UserID != "" && s.UserID == e.UserID() {
		return true
	}
	if s.TransactionID != "" && s.TransactionID == e.TransactionID {
		return true
	}
	return s.IsEmpty()
}

// ActionSubscribe is the only client action understood by the relay.
const ActionSubscribe = "subscribe"

// ClientFrame is a text frame sent by a real-time client.
type ClientFrame struct {
	Action        string `json:"action"`
	UserID        string `json:"userId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// Subscription extracts the filter carried by a subscribe frame.
func (f ClientFrame) Subscription() Subscription {
	return Subscription{UserID: f.UserID, TransactionID: f.TransactionID}
}

// FrameTypeEvent tags server frames that carry an event envelope.
const FrameTypeEvent = "event"

// ServerFrame is a text frame pushed to a real-time client.
type ServerFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Channel names are part of the external contract.
const (
	// TopicTransactions receives the raw ingress payload for legacy consumers.
	TopicTransactions = "transactions"

	// TopicCommands carries Command messages to the orchestrator.
	TopicCommands = "txn.commands"

	// TopicEvents carries EventEnvelope messages to the relay and archiver.
	TopicEvents = "txn.events"

	// TopicDeadLetter receives the original bytes of commands that failed processing.
	TopicDeadLetter = "txn.dlq"
)

// DefaultTopics is the provisioning list used when none is configured.
var DefaultTopics = []string{TopicTransactions, TopicCommands, TopicEvents, TopicDeadLetter}

// Consumer group identifiers.
const (
	GroupOrchestrator = "orchestrator-group"
	GroupGateway      = "gateway-group"
	GroupArchive      = "archive-group"
)
