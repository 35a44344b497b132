package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/disaster-live-feed/internal/broadcast"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/repository"
)

// EventNewAlert names live alert messages on every transport.
const EventNewAlert = "new_alert"

const maxListLimit = 500

// Publisher fans an event out to connected sessions.
type Publisher interface {
	Publish(ev models.AlertEvent)
}

type Options struct {
	SessionBuffer int
	PingInterval  time.Duration // SSE keep-alive
	DebugRoutes   bool
}

type Handler struct {
	store     repository.ReportStore
	registry  *broadcast.Registry
	publisher Publisher
	auth      Authenticator
	opts      Options
}

func NewHandler(store repository.ReportStore, registry *broadcast.Registry, publisher Publisher, auth Authenticator, opts Options) *Handler {
	if opts.SessionBuffer < 1 {
		opts.SessionBuffer = 32
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	return &Handler{
		store:     store,
		registry:  registry,
		publisher: publisher,
		auth:      auth,
		opts:      opts,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	admin := RequireRole(h.auth, RoleAdmin)

	r.GET("/ws/alerts", h.serveWebSocket)
	r.GET("/api/alerts/stream", h.streamAlerts)
	r.GET("/api/alerts", h.listAlerts)
	r.GET("/api/alerts/:id", h.getAlert)
	r.DELETE("/api/alerts/:id", admin, h.deleteAlert)

	r.GET("/health", h.health)
	r.GET("/readyz", h.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.opts.DebugRoutes {
		r.POST("/api/debug/test-alert", admin, h.createTestAlert)
	}
}

func (h *Handler) listAlerts(c *gin.Context) {
	limit := repository.DefaultListLimit
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxListLimit {
			limit = lim
		}
	}

	reports, err := h.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		slog.Error("listing reports", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch alerts",
		})
		return
	}

	if c.Query("format") == "geojson" {
		fc := toGeoJSON(reports)
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, fc)
		return
	}

	alerts := make([]alertResponse, 0, len(reports))
	for i := range reports {
		alerts = append(alerts, toAlertResponse(&reports[i]))
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) getAlert(c *gin.Context) {
	report, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		slog.Error("fetching report", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert"})
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(report))
}

func (h *Handler) deleteAlert(c *gin.Context) {
	id := c.Param("id")
	err := h.store.Delete(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		slog.Error("deleting report", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alert"})
		return
	}

	slog.Info("report deleted", "id", id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.registry.Count(),
	})
}

func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

type testAlertRequest struct {
	DisasterType string `json:"disaster_type"`
	Severity     string `json:"severity"`
	LocationText string `json:"location_text"`
}

func (h *Handler) createTestAlert(c *gin.Context) {
	var req testAlertRequest
	// An empty body is fine, every field has a default.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.DisasterType == "" {
		req.DisasterType = "Earthquake"
	}
	if req.LocationText == "" {
		req.LocationText = "Test location"
	}
	severity := models.SeverityHigh
	if req.Severity != "" {
		severity, _ = models.ParseSeverity(req.Severity)
	}

	ev := models.AlertEvent{
		DisasterType: req.DisasterType,
		LocationText: req.LocationText,
		Severity:     severity,
		OccurredAt:   time.Now().UTC(),
		SourceID:     "test_" + uuid.NewString(),
	}

	// Broadcast only, test alerts are never persisted or notified.
	h.publisher.Publish(ev)

	c.JSON(http.StatusOK, gin.H{
		"message":  "test alert broadcast (not persisted)",
		"id":       ev.SourceID,
		"sessions": h.registry.Count(),
	})
}

// disconnect is safe to call after the hub already dropped the session.
func (h *Handler) disconnect(id string, session *broadcast.ChannelSession) {
	h.registry.Remove(id)
	session.Close()
}
