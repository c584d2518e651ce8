// Package saga runs transfer commands through the reserve, fraud check and
// commit-or-reverse steps, publishing one event per step.
package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"txn-saga/src/broker"
	"txn-saga/src/contracts"
	"txn-saga/src/logger"
	"txn-saga/src/schema"
)

// Sender publishes a value to a channel. connection.Producer implements it.
type Sender interface {
	Send(ctx context.Context, channel, key string, value any) error
}

// Subscriber consumes a topic for a fixed consumer group. connection.Consumer implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan broker.Message, error)
}

// Orchestrator consumes commands and executes the saga for each one, in order.
type Orchestrator struct {
	consumer  Subscriber
	sender    Sender
	assessor  RiskAssessor
	validator *schema.Validator
	logger    logger.Logger

	now    func() time.Time
	newID  func() string
	holdID func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides the generator used for event ids and ledger ids.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// NewOrchestrator creates an Orchestrator reading from consumer and writing through sender.
func NewOrchestrator(consumer Subscriber, sender Sender, assessor RiskAssessor, log logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		consumer:  consumer,
		sender:    sender,
		assessor:  assessor,
		validator: schema.MustNewValidator(),
		logger:    log,
		now:       time.Now,
		newID:     uuid.NewString,
		holdID:    func() string { return fmt.Sprintf("hold-%d", rand.IntN(1000)) },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run consumes txn.commands until ctx is cancelled or the subscription ends.
// Messages are handled one at a time.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("[Orchestrator] Starting...")

	msgChan, err := o.consumer.Subscribe(ctx, contracts.TopicCommands)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicCommands, err)
	}

	o.logger.Info("[Orchestrator] Listening for commands on '%s' topic...", contracts.TopicCommands)

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				o.logger.Info("[Orchestrator] Message channel closed, shutting down")
				return nil
			}
			_ = o.HandleMessage(ctx, msg)

		case <-ctx.Done():
			o.logger.Info("[Orchestrator] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// HandleMessage runs the saga for one raw command. On failure the original
// bytes are forwarded to txn.dlq and the error is returned after logging.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg broker.Message) error {
	err := o.process(ctx, msg.Value)
	if err == nil {
		return nil
	}

	o.logger.Error("[Orchestrator] Command at offset %d failed: %v", msg.Offset, err)
	if dlqErr := o.sender.Send(ctx, contracts.TopicDeadLetter, msg.Key, msg.Value); dlqErr != nil {
		o.logger.Error("[Orchestrator] Failed to dead-letter command at offset %d: %v", msg.Offset, dlqErr)
	} else {
		o.logger.Warn("[Orchestrator] Command at offset %d moved to %s", msg.Offset, contracts.TopicDeadLetter)
	}
	return err
}

func (o *Orchestrator) process(ctx context.Context, raw []byte) error {
	cmd, err := o.validator.DecodeCommand(raw)
	if err != nil {
		return &ProcessingError{Stage: "decode", Err: err}
	}
	return o.Execute(ctx, cmd)
}

// Execute runs the steps for a decoded command and publishes their events,
// keyed by transaction id.
func (o *Orchestrator) Execute(ctx context.Context, cmd contracts.Command) error {
	run := &sagaRun{o: o, cmd: cmd}

	if err := run.emit(ctx, contracts.EventFundsReserved, map[string]any{
		"ok":     true,
		"holdId": o.holdID(),
		"amount": json.Number(cmd.Amount.String()),
	}); err != nil {
		return err
	}

	risk := o.assessor.Assess(cmd.Amount, cmd.UserID)
	if risk != RiskLow && risk != RiskHigh {
		return &ProcessingError{
			Stage:         string(contracts.EventFraudChecked),
			TransactionID: cmd.TransactionID,
			Err:           fmt.Errorf("unknown risk verdict %q", risk),
		}
	}
	if err := run.emit(ctx, contracts.EventFraudChecked, map[string]any{"risk": string(risk)}); err != nil {
		return err
	}

	if risk == RiskHigh {
		if err := run.emit(ctx, contracts.EventReversed, map[string]any{"reason": "FraudHigh"}); err != nil {
			return err
		}
		o.logger.Info("[Orchestrator] Transaction %s reversed (risk %s)", cmd.TransactionID, risk)
		return nil
	}

	if err := run.emit(ctx, contracts.EventCommitted, map[string]any{"ledgerTxId": "ledger-" + o.newID()}); err != nil {
		return err
	}
	if err := run.emit(ctx, contracts.EventNotified, map[string]any{"channels": []string{"email"}}); err != nil {
		return err
	}
	o.logger.Info("[Orchestrator] Transaction %s committed", cmd.TransactionID)
	return nil
}

// sagaRun carries the per-command timestamp floor.
type sagaRun struct {
	o      *Orchestrator
	cmd    contracts.Command
	lastTS int64
}

func (r *sagaRun) emit(ctx context.Context, typ contracts.EventType, payload map[string]any) error {
	payload["userId"] = r.cmd.UserID

	ts := r.o.now().UnixMilli()
	if ts < r.lastTS {
		ts = r.lastTS
	}
	r.lastTS = ts

	env := contracts.EventEnvelope{
		ID:            r.o.newID(),
		Type:          typ,
		Version:       contracts.EnvelopeVersion,
		TS:            ts,
		TransactionID: r.cmd.TransactionID,
		Payload:       payload,
	}

	if err := r.o.sender.Send(ctx, contracts.TopicEvents, r.cmd.TransactionID, env); err != nil {
		return &ProcessingError{Stage: string(typ), TransactionID: r.cmd.TransactionID, Err: err}
	}
	r.o.logger.Debug("[Orchestrator] Emitted %s for transaction %s", typ, r.cmd.TransactionID)
	return nil
}
