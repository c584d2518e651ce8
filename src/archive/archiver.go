// Package archive records the event stream into an EventLog so a transaction's
// history can be read back after the fact.
package archive

import (
	"context"
	"fmt"

	"txn-saga/src/broker"
	"txn-saga/src/contracts"
	"txn-saga/src/logger"
	"txn-saga/src/schema"
	"txn-saga/src/store"
)

// Subscriber consumes a topic for a fixed consumer group.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan broker.Message, error)
}

// Archiver consumes txn.events and appends each valid envelope to the log.
type Archiver struct {
	consumer  Subscriber
	log       store.EventLog
	validator *schema.Validator
	logger    logger.Logger
}

// NewArchiver creates a new archiver.
func NewArchiver(consumer Subscriber, eventLog store.EventLog, log logger.Logger) *Archiver {
	return &Archiver{
		consumer:  consumer,
		log:       eventLog,
		validator: schema.MustNewValidator(),
		logger:    log,
	}
}

// Run starts the archiver's main loop.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("[Archiver] Starting...")

	msgChan, err := a.consumer.Subscribe(ctx, contracts.TopicEvents)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicEvents, err)
	}

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				a.logger.Info("[Archiver] Message channel closed, shutting down")
				return nil
			}
			if err := a.HandleMessage(ctx, msg); err != nil {
				a.logger.Error("[Archiver] Error archiving event at offset %d: %v", msg.Offset, err)
			}

		case <-ctx.Done():
			a.logger.Info("[Archiver] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// HandleMessage validates and stores one event.
func (a *Archiver) HandleMessage(ctx context.Context, msg broker.Message) error {
	env, err := a.validator.DecodeEnvelope(msg.Value)
	if err != nil {
		return err
	}

	added, err := a.log.Append(ctx, env)
	if err != nil {
		return err
	}
	if !added {
		a.logger.Debug("[Archiver] Event %s already archived", env.ID)
		return nil
	}

	a.logger.Debug("[Archiver] Archived %s for transaction %s", env.Type, env.TransactionID)
	return nil
}
