package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/models"
)

// Hub fans each event out to every registered session.
type Hub struct {
	registry *Registry
	timeout  time.Duration
	metrics  *metrics.Metrics
}

func NewHub(registry *Registry, deliveryTimeout time.Duration, m *metrics.Metrics) *Hub {
	return &Hub{
		registry: registry,
		timeout:  deliveryTimeout,
		metrics:  m,
	}
}

// Publish delivers ev to a snapshot of the registry, one goroutine per
// session, each bounded by the delivery timeout. A failed session is removed
// and closed; it never affects the others. Publish returns once every
// attempt has finished.
func (h *Hub) Publish(ev models.AlertEvent) {
	sessions := h.registry.Snapshot()
	h.metrics.EventsBroadcast.Inc()
	if len(sessions) == 0 {
		slog.Debug("no sessions connected", "source_id", ev.SourceID)
		return
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s Session) {
			defer wg.Done()
			h.deliver(s, ev)
		}(s)
	}
	wg.Wait()

	slog.Debug("event published", "source_id", ev.SourceID, "sessions", len(sessions))
}

func (h *Hub) deliver(s Session, ev models.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	err := safeDeliver(ctx, s.Handle, ev)
	if err == nil {
		return
	}

	h.metrics.DeliveryFailures.Inc()
	slog.Warn("delivery failed, dropping session",
		"session_id", s.ID,
		"source_id", ev.SourceID,
		"error", err,
	)
	if handle, ok := h.registry.Remove(s.ID); ok {
		handle.Close()
	}
}

func safeDeliver(ctx context.Context, h Handle, ev models.AlertEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panicked: %v", r)
		}
	}()
	return h.Deliver(ctx, ev)
}
