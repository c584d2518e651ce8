package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter serves the websocket endpoint at "/" and "/ws", plus /healthz.
func NewRouter(r *Relay) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/", r.ServeWS)
	router.Get("/ws", r.ServeWS)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": r.registry.Len(),
		})
	})

	return router
}

// ServeWS upgrades the request and serves the connection until it closes.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("[Relay] Upgrade failed: %v", err)
		return
	}

	c := NewClient(uuid.NewString())
	r.registry.Add(c)
	r.logger.Info("[Relay] Client %s connected from %s", c.ID(), req.RemoteAddr)

	go r.writePump(conn, c)
	r.readPump(conn, c)
}

func (r *Relay) readPump(conn *websocket.Conn, c *Client) {
	defer func() {
		r.registry.Remove(c.ID())
		conn.Close()
		r.logger.Info("[Relay] Client %s disconnected", c.ID())
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Warn("[Relay] Client %s read error: %v", c.ID(), err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = r.HandleClientFrame(c, data)
	}
}

// writePump is the only writer on conn.
func (r *Relay) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-c.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				r.logger.Warn("[Relay] Write to client %s failed: %v", c.ID(), err)
				r.registry.Remove(c.ID())
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.registry.Remove(c.ID())
				return
			}

		case <-c.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
