package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/disaster-live-feed/internal/broadcast"
)

// streamAlerts serves the live feed as Server-Sent Events.
func (h *Handler) streamAlerts(c *gin.Context) {
	session := broadcast.NewChannelSession(h.opts.SessionBuffer)
	id := h.registry.Connect(session)
	defer h.disconnect(id, session)
	slog.Info("sse session connected", "session_id", id, "remote", c.ClientIP())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-session.Events():
			c.SSEvent(EventNewAlert, ev)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			return true
		case <-session.Done():
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})

	slog.Info("sse session disconnected", "session_id", id)
}
