// Package ingress is the HTTP adapter that turns transfer requests into
// command messages and serves the archived event history.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"txn-saga/src/connection"
	"txn-saga/src/contracts"
	"txn-saga/src/logger"
	"txn-saga/src/store"
)

const maxBodyBytes = 1 << 20

// Sender publishes a value to a channel. connection.Producer implements it.
type Sender interface {
	Send(ctx context.Context, channel, key string, value any) error
}

// StateSource reports the broker connection state.
type StateSource interface {
	State() connection.State
}

// Handler serves the ingress endpoints.
type Handler struct {
	producer Sender
	state    StateSource
	events   store.EventLog // nil disables the history endpoint
	logger   logger.Logger
}

// NewHandler creates a Handler. events may be nil.
func NewHandler(producer Sender, state StateSource, events store.EventLog, log logger.Logger) *Handler {
	return &Handler{
		producer: producer,
		state:    state,
		events:   events,
		logger:   log,
	}
}

type acceptedResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	KafkaError    string `json:"kafkaError,omitempty"`
}

// CreateTransaction accepts a transfer request. The raw body goes to
// `transactions` and a command with a guaranteed transactionId goes to
// `txn.commands`. Send failures still answer 202 and carry kafkaError.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// UseNumber keeps amounts exactly as the client wrote them.
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body == nil || dec.More() {
		respondWithError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	txnID, _ := body["transactionId"].(string)
	if txnID == "" {
		txnID = uuid.NewString()
		body["transactionId"] = txnID
	}

	resp := acceptedResponse{Status: "accepted", TransactionID: txnID}

	if err := h.producer.Send(r.Context(), contracts.TopicTransactions, "", raw); err != nil {
		h.logger.Warn("[Ingress] Failed to forward raw transaction %s: %v", txnID, err)
		resp.KafkaError = err.Error()
	}
	if err := h.producer.Send(r.Context(), contracts.TopicCommands, txnID, body); err != nil {
		h.logger.Warn("[Ingress] Failed to send command %s: %v", txnID, err)
		resp.KafkaError = err.Error()
	} else {
		h.logger.Info("[Ingress] Accepted transaction %s", txnID)
	}

	respondWithJSON(w, http.StatusAccepted, resp)
}

type historyResponse struct {
	TransactionID string                    `json:"transactionId"`
	Events        []contracts.EventEnvelope `json:"events"`
}

// ListEvents returns the archived events of one transaction.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondWithError(w, http.StatusNotFound, "event log is not enabled")
		return
	}

	txnID := chi.URLParam(r, "id")
	events, err := h.events.ListByTransaction(r.Context(), txnID)
	if err != nil {
		h.logger.Error("[Ingress] Failed to list events for %s: %v", txnID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	if events == nil {
		events = []contracts.EventEnvelope{}
	}

	respondWithJSON(w, http.StatusOK, historyResponse{TransactionID: txnID, Events: events})
}

// Health answers 200 once the producer is ready and 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.state.State()
	code := http.StatusOK
	if state != connection.ProducerReady {
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, map[string]string{"broker": state.String()})
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
