package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mr1hm/disaster-live-feed/internal/broadcast"
	"github.com/mr1hm/disaster-live-feed/internal/models"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is applied by the router; any origin may open the feed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope of every live alert.
type Message struct {
	Event string            `json:"event"`
	Data  models.AlertEvent `json:"data"`
}

// serveWebSocket registers one session per connection and blocks until the
// client goes away or the hub drops the session.
func (h *Handler) serveWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader has already written the error response.
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	session := broadcast.NewChannelSession(h.opts.SessionBuffer)
	id := h.registry.Connect(session)
	slog.Info("websocket session connected", "session_id", id, "remote", c.ClientIP())

	written := make(chan struct{})
	go func() {
		defer close(written)
		writePump(conn, session)
	}()
	readPump(conn)

	h.disconnect(id, session)
	<-written
	slog.Info("websocket session disconnected", "session_id", id)
}

// writePump forwards delivered events to the connection and sends pings.
// It returns when the session is closed or a write fails.
func writePump(conn *websocket.Conn, session *broadcast.ChannelSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev := <-session.Events():
			data, err := json.Marshal(Message{Event: EventNewAlert, Data: ev})
			if err != nil {
				slog.Error("encoding alert message", "source_id", ev.SourceID, "error", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-session.Done():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects. The feed is one
// way; anything the client sends is discarded.
func readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
