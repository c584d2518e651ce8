package connection

import (
	"context"

	"txn-saga/src/broker"
	"txn-saga/src/logger"
)

// Dialer opens the two connections a connect attempt needs.
type Dialer interface {
	DialAdmin(ctx context.Context) (broker.Admin, error)
	DialBroker(ctx context.Context) (broker.Broker, error)
}

// RedpandaDialer dials a Kafka-compatible cluster with franz-go.
// Both dials ping the seed brokers so an unreachable cluster fails the attempt
// instead of surfacing later on the first send.
type RedpandaDialer struct {
	Brokers  []string
	ClientID string
	Logger   logger.Logger
}

func (d RedpandaDialer) DialAdmin(ctx context.Context) (broker.Admin, error) {
	admin, err := broker.NewRedpandaAdmin(d.Brokers, d.ClientID)
	if err != nil {
		return nil, err
	}
	if err := admin.Ping(ctx); err != nil {
		admin.Close()
		return nil, err
	}
	return admin, nil
}

func (d RedpandaDialer) DialBroker(ctx context.Context) (broker.Broker, error) {
	b, err := broker.NewRedpandaBroker(d.Brokers, d.ClientID, d.Logger)
	if err != nil {
		return nil, err
	}
	if err := b.Ping(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// MemoryDialer hands out views of a shared in-memory broker.
// Closing a view leaves the shared broker open for the other components.
type MemoryDialer struct {
	Broker *broker.InMemoryBroker
}

func (d MemoryDialer) DialAdmin(ctx context.Context) (broker.Admin, error) {
	return sharedView{d.Broker}, nil
}

func (d MemoryDialer) DialBroker(ctx context.Context) (broker.Broker, error) {
	return sharedView{d.Broker}, nil
}

type sharedView struct {
	*broker.InMemoryBroker
}

func (sharedView) Close() error { return nil }
