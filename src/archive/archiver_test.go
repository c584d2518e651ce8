package archive

import (
	"context"
	"testing"
	"time"

	"txn-saga/src/broker"
	"txn-saga/src/connection"
	"txn-saga/src/contracts"
	"txn-saga/src/logger"
	"txn-saga/src/store"
)

const committed = `{"id":"e1","type":"txn.Committed","version":1,"ts":10,"transactionId":"t1","payload":{"userId":"u1"}}`

func TestArchiver_HandleMessage(t *testing.T) {
	ctx := context.Background()
	eventLog := store.NewMemoryEventLog()
	a := NewArchiver(nil, eventLog, logger.NewSilentLogger())

	if err := a.HandleMessage(ctx, broker.Message{Value: []byte(committed)}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	// Redelivery is absorbed by the log.
	if err := a.HandleMessage(ctx, broker.Message{Value: []byte(committed)}); err != nil {
		t.Fatalf("HandleMessage replay failed: %v", err)
	}
	if err := a.HandleMessage(ctx, broker.Message{Value: []byte(`{"id":"e2"}`)}); err == nil {
		t.Error("expected invalid envelope to be rejected")
	}

	events, _ := eventLog.ListByTransaction(ctx, "t1")
	if len(events) != 1 || events[0].ID != "e1" {
		t.Errorf("archived = %+v", events)
	}
}

func TestArchiver_Run(t *testing.T) {
	mem := broker.NewInMemoryBroker()
	defer mem.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := connection.NewManager(connection.MemoryDialer{Broker: mem}, connection.Options{
		Topics:   contracts.DefaultTopics,
		Attempts: 1,
	}, logger.NewSilentLogger())
	handles, err := m.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	_ = handles.Producer.Send(ctx, contracts.TopicEvents, "t1", committed)

	eventLog := store.NewMemoryEventLog()
	a := NewArchiver(handles.CreateConsumer(contracts.GroupArchive), eventLog, logger.NewSilentLogger())
	go a.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		events, _ := eventLog.ListByTransaction(ctx, "t1")
		if len(events) == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for archived event")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
