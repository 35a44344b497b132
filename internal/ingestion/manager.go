package ingestion

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/notify"
)

// Policy decides on the notification side-effect. It must not block.
type Policy interface {
	Evaluate(ev models.AlertEvent) notify.State
}

// Publisher fans an event out to connected sessions.
type Publisher interface {
	Publish(ev models.AlertEvent)
}

// Manager runs the single logical stream from raw records to both consumers.
type Manager struct {
	records   <-chan models.RawRecord
	policy    Policy
	publisher Publisher
	metrics   *metrics.Metrics
	recent    *recentIDs
	wg        sync.WaitGroup
}

// NewManager reads from records until it is closed. dedupeWindow is the
// number of recent source ids kept to drop replays; 0 disables it.
func NewManager(records <-chan models.RawRecord, policy Policy, publisher Publisher, dedupeWindow int, m *metrics.Metrics) *Manager {
	return &Manager{
		records:   records,
		policy:    policy,
		publisher: publisher,
		metrics:   m,
		recent:    newRecentIDs(dedupeWindow),
	}
}

// Start is non-blocking.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.run(ctx)
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	slog.Info("ingestion manager started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingestion manager shutting down")
			return
		case raw, ok := <-m.records:
			if !ok {
				slog.Info("change feed closed, ingestion manager exiting")
				return
			}
			m.handle(raw)
		}
	}
}

func (m *Manager) handle(raw models.RawRecord) {
	ev, err := Normalize(raw)
	if err != nil {
		m.metrics.MalformedRecords.Inc()
		slog.Warn("dropping malformed record",
			"source_id", raw.ID,
			"resume_token", raw.ResumeToken,
			"error", err,
		)
		return
	}

	if m.recent.observe(ev.SourceID) {
		m.metrics.DuplicateRecords.Inc()
		slog.Debug("dropping replayed record", "source_id", ev.SourceID)
		return
	}

	// Evaluate only enqueues, so a slow sink never holds up Publish.
	state := m.policy.Evaluate(ev)
	m.publisher.Publish(ev)

	slog.Info("alert event processed",
		"source_id", ev.SourceID,
		"type", ev.DisasterType,
		"severity", ev.Severity,
		"notification", state,
	)
}

// Stop waits for the loop to exit. Cancel the context passed to Start, or
// close the record channel, first.
func (m *Manager) Stop() {
	m.wg.Wait()
	slog.Info("ingestion manager stopped")
}
