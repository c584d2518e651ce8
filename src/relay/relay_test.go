package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"txn-saga/src/broker"
	"txn-saga/src/contracts"
	"txn-saga/src/logger"
)

func eventMessage(id, txnID, userID string) broker.Message {
	raw := fmt.Sprintf(`{"id":%q,"type":"txn.Committed","version":1,"ts":1700000000000,"transactionId":%q,"payload":{"userId":%q,"ledgerTxId":"ledger-1"}}`,
		id, txnID, userID)
	return broker.Message{Topic: contracts.TopicEvents, Key: txnID, Value: []byte(raw)}
}

func drain(c *Client) []contracts.ServerFrame {
	var frames []contracts.ServerFrame
	for {
		select {
		case raw := <-c.Outbound():
			var f contracts.ServerFrame
			_ = json.Unmarshal(raw, &f)
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func newTestRelay(clients ...*Client) *Relay {
	r := NewRelay(nil, logger.NewSilentLogger())
	for _, c := range clients {
		r.Registry().Add(c)
	}
	return r
}

func TestRelay_FilterRouting(t *testing.T) {
	byUser := NewClient("a")
	byUser.Subscribe(contracts.Subscription{UserID: "u1"})
	byTxn := NewClient("b")
	byTxn.Subscribe(contracts.Subscription{TransactionID: "t2"})
	everything := NewClient("c")

	r := newTestRelay(byUser, byTxn, everything)

	_ = r.HandleMessage(eventMessage("e1", "t1", "u1"))
	_ = r.HandleMessage(eventMessage("e2", "t2", "u2"))
	_ = r.HandleMessage(eventMessage("e3", "t3", "u3"))

	tests := []struct {
		client *Client
		want   int
	}{
		{byUser, 1},
		{byTxn, 1},
		{everything, 3},
	}
	for _, tt := range tests {
		if got := len(drain(tt.client)); got != tt.want {
			t.Errorf("client %s received %d frames, want %d", tt.client.ID(), got, tt.want)
		}
	}
}

func TestRelay_FrameCarriesEnvelope(t *testing.T) {
	c := NewClient("a")
	r := newTestRelay(c)

	msg := eventMessage("e1", "t1", "u1")
	if err := r.HandleMessage(msg); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	frames := drain(c)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Type != "event" {
		t.Errorf("frame type = %q", frames[0].Type)
	}
	var env contracts.EventEnvelope
	if err := json.Unmarshal(frames[0].Data, &env); err != nil {
		t.Fatalf("frame data is not an envelope: %v", err)
	}
	if env.ID != "e1" || env.TransactionID != "t1" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestRelay_DuplicateEventDeliveredOnce(t *testing.T) {
	c := NewClient("a")
	r := newTestRelay(c)

	for i := 0; i < 3; i++ {
		_ = r.HandleMessage(eventMessage("e1", "t1", "u1"))
	}
	if got := len(drain(c)); got != 1 {
		t.Errorf("received %d frames for one event id, want 1", got)
	}
}

func TestRelay_DedupeWindowIsBounded(t *testing.T) {
	r := newTestRelay()
	for i := 0; i < DedupeWindow+10; i++ {
		_ = r.HandleMessage(eventMessage(fmt.Sprintf("e%d", i), "t1", "u1"))
	}
	if len(r.seen) != DedupeWindow {
		t.Errorf("remembered %d ids, want %d", len(r.seen), DedupeWindow)
	}
	// e0 fell out of the window.
	if !r.markSeen("e0") {
		t.Error("evicted id should be treated as new")
	}
}

func TestRelay_SlowClientDoesNotBlockOthers(t *testing.T) {
	slow := NewClient("slow")
	fast := NewClient("fast")
	r := newTestRelay(slow, fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < SendBuffer*2; i++ {
			_ = r.HandleMessage(eventMessage(fmt.Sprintf("e%d", i), "t1", "u1"))
			drain(fast)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	if got := len(drain(slow)); got != SendBuffer {
		t.Errorf("slow client queued %d frames, want %d", got, SendBuffer)
	}
}

func TestRelay_ClosedClientIsSkipped(t *testing.T) {
	closed := NewClient("closed")
	open := NewClient("open")
	r := newTestRelay(closed, open)
	closed.Close()

	_ = r.HandleMessage(eventMessage("e1", "t1", "u1"))

	if got := len(drain(closed)); got != 0 {
		t.Errorf("closed client received %d frames", got)
	}
	if got := len(drain(open)); got != 1 {
		t.Errorf("open client received %d frames, want 1", got)
	}
}

func TestRelay_InvalidEventRejected(t *testing.T) {
	c := NewClient("a")
	r := newTestRelay(c)

	err := r.HandleMessage(broker.Message{Value: []byte(`{"id":"e1","type":"txn.Bogus"}`)})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if got := len(drain(c)); got != 0 {
		t.Errorf("invalid event delivered %d times", got)
	}
}

func TestRelay_HandleClientFrame(t *testing.T) {
	c := NewClient("a")
	r := newTestRelay(c)

	if err := r.HandleClientFrame(c, []byte(`{"action":"subscribe","userId":"u1"}`)); err != nil {
		t.Fatalf("HandleClientFrame failed: %v", err)
	}
	if c.State() != StateSubscribed || c.Filter().UserID != "u1" {
		t.Fatalf("client = %s %+v", c.State(), c.Filter())
	}

	malformed := []string{
		`not json`,
		`{"action":"unsubscribe","userId":"u2"}`,
		`{"action":"subscribe","userId":42}`,
	}
	for _, raw := range malformed {
		if err := r.HandleClientFrame(c, []byte(raw)); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("HandleClientFrame(%s) = %v, want ErrMalformedFrame", raw, err)
		}
		if c.Filter().UserID != "u1" {
			t.Errorf("filter changed to %+v after %s", c.Filter(), raw)
		}
	}

	// The last subscribe wins.
	_ = r.HandleClientFrame(c, []byte(`{"action":"subscribe","transactionId":"t9"}`))
	if f := c.Filter(); f.UserID != "" || f.TransactionID != "t9" {
		t.Errorf("filter = %+v, want transactionId t9 only", f)
	}
}

func TestRegistry_RemoveClosesClient(t *testing.T) {
	reg := NewRegistry()
	c := NewClient("a")
	reg.Add(c)
	reg.Remove("a")

	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
	if c.State() != StateClosed {
		t.Errorf("State = %s, want closed", c.State())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed")
	}
}

func dialRelay(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	r := NewRelay(nil, logger.NewSilentLogger())
	server := httptest.NewServer(NewRouter(r))
	defer server.Close()

	conn := dialRelay(t, server)
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","userId":"u1"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	waitFor(t, func() bool {
		for _, c := range r.Registry().Snapshot() {
			if c.Filter().UserID == "u1" {
				return true
			}
		}
		return false
	})

	_ = r.HandleMessage(eventMessage("e-other", "t2", "u2"))
	_ = r.HandleMessage(eventMessage("e-mine", "t1", "u1"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var frame contracts.ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	var env contracts.EventEnvelope
	_ = json.Unmarshal(frame.Data, &env)
	if frame.Type != contracts.FrameTypeEvent || env.ID != "e-mine" {
		t.Errorf("frame = %s", data)
	}
}

func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	r := NewRelay(nil, logger.NewSilentLogger())
	server := httptest.NewServer(NewRouter(r))
	defer server.Close()

	conn := dialRelay(t, server)
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{{{`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","transactionId":"t1"}`))

	waitFor(t, func() bool {
		for _, c := range r.Registry().Snapshot() {
			if c.Filter().TransactionID == "t1" {
				return true
			}
		}
		return false
	})
	if r.Registry().Len() != 1 {
		t.Errorf("connections = %d, want 1", r.Registry().Len())
	}
}

func TestWebSocket_DisconnectRemovesClient(t *testing.T) {
	r := NewRelay(nil, logger.NewSilentLogger())
	server := httptest.NewServer(NewRouter(r))
	defer server.Close()

	conn := dialRelay(t, server)
	waitFor(t, func() bool { return r.Registry().Len() == 1 })

	conn.Close()
	waitFor(t, func() bool { return r.Registry().Len() == 0 })
}

func TestHealthz(t *testing.T) {
	r := newTestRelay(NewClient("a"), NewClient("b"))

	rec := httptest.NewRecorder()
	NewRouter(r).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body.Connections != 2 {
		t.Errorf("connections = %d, want 2", body.Connections)
	}
}
