package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"txn-saga/src/connection"
	"txn-saga/src/contracts"
	"txn-saga/src/logger"
	"txn-saga/src/store"
)

type sent struct {
	channel string
	key     string
	value   []byte
}

type fakeProducer struct {
	mu    sync.Mutex
	sends []sent
	err   error
}

func (p *fakeProducer) Send(ctx context.Context, channel, key string, value any) error {
	if p.err != nil {
		return p.err
	}
	data, err := connection.Encode(value)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, sent{channel, key, data})
	return nil
}

type fixedState connection.State

func (s fixedState) State() connection.State { return connection.State(s) }

func newServer(p Sender, state connection.State, events store.EventLog) *httptest.Server {
	h := NewHandler(p, fixedState(state), events, logger.NewSilentLogger())
	return httptest.NewServer(NewRouter(h))
}

func postTransaction(t *testing.T, url, body string) (*http.Response, acceptedResponse) {
	t.Helper()
	resp, err := http.Post(url+"/transactions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	var out acceptedResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestCreateTransaction_Forwards(t *testing.T) {
	p := &fakeProducer{}
	server := newServer(p, connection.ProducerReady, nil)
	defer server.Close()

	body := `{"transactionId":"t1","fromAccount":"a","toAccount":"b","amount":10.50,"currency":"EUR","userId":"u1"}`
	resp, out := postTransaction(t, server.URL, body)

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if out.Status != "accepted" || out.TransactionID != "t1" || out.KafkaError != "" {
		t.Errorf("response = %+v", out)
	}

	if len(p.sends) != 2 {
		t.Fatalf("got %d sends, want 2", len(p.sends))
	}
	raw, cmd := p.sends[0], p.sends[1]
	if raw.channel != contracts.TopicTransactions || raw.key != "" || string(raw.value) != body {
		t.Errorf("raw forward = %+v", raw)
	}
	if cmd.channel != contracts.TopicCommands || cmd.key != "t1" {
		t.Errorf("command forward = %s/%s", cmd.channel, cmd.key)
	}
	var decoded contracts.Command
	if err := json.Unmarshal(cmd.value, &decoded); err != nil {
		t.Fatalf("command is not JSON: %v", err)
	}
	if decoded.Amount.String() != "10.5" || decoded.UserID != "u1" {
		t.Errorf("command = %+v", decoded)
	}
}

func TestCreateTransaction_GeneratesTransactionID(t *testing.T) {
	p := &fakeProducer{}
	server := newServer(p, connection.ProducerReady, nil)
	defer server.Close()

	_, out := postTransaction(t, server.URL, `{"amount":5,"userId":"u1"}`)
	if out.TransactionID == "" {
		t.Fatal("expected generated transactionId")
	}
	if p.sends[1].key != out.TransactionID {
		t.Errorf("command key = %q, want %q", p.sends[1].key, out.TransactionID)
	}
	if !strings.Contains(string(p.sends[1].value), out.TransactionID) {
		t.Errorf("command body missing id: %s", p.sends[1].value)
	}
}

func TestCreateTransaction_SendFailureIsSoft(t *testing.T) {
	p := &fakeProducer{err: connection.ErrNotConnected}
	server := newServer(p, connection.Failed, nil)
	defer server.Close()

	resp, out := postTransaction(t, server.URL, `{"transactionId":"t1","amount":5,"userId":"u1"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if out.KafkaError == "" || !strings.Contains(out.KafkaError, "not connected") {
		t.Errorf("kafkaError = %q", out.KafkaError)
	}
}

func TestCreateTransaction_RejectsInvalidJSON(t *testing.T) {
	p := &fakeProducer{}
	server := newServer(p, connection.ProducerReady, nil)
	defer server.Close()

	for _, body := range []string{`{"amount":`, `[1,2]`, `null`, `{"a":1} {"b":2}`} {
		resp, _ := postTransaction(t, server.URL, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, resp.StatusCode)
		}
	}
	if len(p.sends) != 0 {
		t.Errorf("invalid bodies produced %d sends", len(p.sends))
	}
}

func TestListEvents(t *testing.T) {
	events := store.NewMemoryEventLog()
	ctx := context.Background()
	_, _ = events.Append(ctx, contracts.EventEnvelope{ID: "e2", Type: contracts.EventFraudChecked, Version: 1, TS: 2, TransactionID: "t1", Payload: map[string]any{"userId": "u1"}})
	_, _ = events.Append(ctx, contracts.EventEnvelope{ID: "e1", Type: contracts.EventFundsReserved, Version: 1, TS: 1, TransactionID: "t1", Payload: map[string]any{"userId": "u1"}})

	server := newServer(&fakeProducer{}, connection.ProducerReady, events)
	defer server.Close()

	resp, err := http.Get(server.URL + "/transactions/t1/events")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out.Events) != 2 || out.Events[0].ID != "e1" || out.Events[1].ID != "e2" {
		t.Errorf("events = %+v", out.Events)
	}
}

func TestListEvents_Disabled(t *testing.T) {
	server := newServer(&fakeProducer{}, connection.ProducerReady, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/transactions/t1/events")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		state connection.State
		want  int
	}{
		{connection.ProducerReady, http.StatusOK},
		{connection.Connecting, http.StatusServiceUnavailable},
		{connection.Failed, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := NewHandler(&fakeProducer{}, fixedState(tt.state), nil, logger.NewSilentLogger())
			rec := httptest.NewRecorder()
			NewRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), tt.state.String()) {
				t.Errorf("body %s does not name state", rec.Body.String())
			}
		})
	}
}

