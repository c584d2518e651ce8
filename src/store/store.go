// Package store defines the interface for persistent data storage.
package store

import (
	"context"

	"txn-saga/src/contracts"
)

// EventLog persists the event stream, grouped by transaction id.
type EventLog interface {
	// Append stores an event. It reports false, without error, when an event
	// with the same id is already stored.
	Append(ctx context.Context, env contracts.EventEnvelope) (bool, error)

	// ListByTransaction returns a transaction's events ordered by ts, then by arrival.
	ListByTransaction(ctx context.Context, transactionID string) ([]contracts.EventEnvelope, error)

	// Close closes the store connection
	Close() error
}
