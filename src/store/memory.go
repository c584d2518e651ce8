// Package store provides an in-memory store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"txn-saga/src/contracts"
)

// MemoryEventLog is an in-memory implementation of EventLog.
// Useful for testing and the single-process mode.
type MemoryEventLog struct {
	mu      sync.RWMutex
	byTxn   map[string][]contracts.EventEnvelope // transactionId -> events in arrival order
	seenIDs map[string]struct{}
}

// NewMemoryEventLog creates a new in-memory event log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{
		byTxn:   make(map[string][]contracts.EventEnvelope),
		seenIDs: make(map[string]struct{}),
	}
}

// Append stores an event unless its id was seen before.
func (s *MemoryEventLog) Append(ctx context.Context, env contracts.EventEnvelope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seenIDs[env.ID]; exists {
		return false, nil
	}
	s.seenIDs[env.ID] = struct{}{}
	s.byTxn[env.TransactionID] = append(s.byTxn[env.TransactionID], env)
	return true, nil
}

// ListByTransaction returns a copy of the transaction's events.
func (s *MemoryEventLog) ListByTransaction(ctx context.Context, transactionID string) ([]contracts.EventEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byTxn[transactionID]
	result := make([]contracts.EventEnvelope, len(events))
	copy(result, events)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TS < result[j].TS
	})
	return result, nil
}

// Close closes the store (no-op for memory store).
func (s *MemoryEventLog) Close() error {
	return nil
}
