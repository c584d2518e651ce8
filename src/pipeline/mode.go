package pipeline

import (
	"context"
	"fmt"

	"txn-saga/src/broker"
	"txn-saga/src/config"
	"txn-saga/src/connection"
	"txn-saga/src/logger"
	"txn-saga/src/store"
)

// Mode selects the broker and storage backends.
type Mode int

const (
	// DistributedMode talks to Redpanda and, when DATABASE_URL is set, Postgres.
	DistributedMode Mode = iota
	// InMemoryMode runs every role in one process over the in-memory broker and event log.
	InMemoryMode
)

func (m Mode) String() string {
	switch m {
	case DistributedMode:
		return "distributed"
	case InMemoryMode:
		return "in-memory"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// backends owns whatever the mode opened so Shutdown can release it.
type backends struct {
	dialer connection.Dialer
	mem    *broker.InMemoryBroker
}

func newBackends(mode Mode, cfg *config.Config, log logger.Logger) backends {
	if mode == InMemoryMode {
		mem := broker.NewInMemoryBroker()
		return backends{dialer: connection.MemoryDialer{Broker: mem}, mem: mem}
	}
	return backends{dialer: connection.RedpandaDialer{
		Brokers:  cfg.Brokers,
		ClientID: cfg.ClientID,
		Logger:   log,
	}}
}

func (b backends) close() error {
	if b.mem != nil {
		return b.mem.Close()
	}
	return nil
}

// openEventLog returns nil when the mode has no archive configured.
func openEventLog(ctx context.Context, mode Mode, cfg *config.Config) (store.EventLog, error) {
	if mode == InMemoryMode {
		return store.NewMemoryEventLog(), nil
	}
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	return store.NewPostgresEventLog(ctx, cfg.DatabaseURL)
}
