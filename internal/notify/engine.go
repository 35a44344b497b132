package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/worker"
)

// State is the result of evaluating one event.
type State string

const (
	StateNoAction   State = "evaluated_no_action"
	StateDispatched State = "evaluated_dispatched"
)

var ErrQueueFull = errors.New("notification queue full")

type Options struct {
	Recipient   string
	Workers     int
	QueueSize   int
	SendTimeout time.Duration

	// OnOutcome, if set, receives every request once its outcome is known.
	// It runs on a worker goroutine (or the caller's, for a full queue).
	OnOutcome func(models.NotificationRequest)
}

type Engine struct {
	sink    Sink
	opts    Options
	pool    *worker.WorkerPool
	metrics *metrics.Metrics
}

func NewEngine(sink Sink, opts Options, m *metrics.Metrics) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	e := &Engine{
		sink:    sink,
		opts:    opts,
		metrics: m,
	}
	e.pool = worker.NewWorkerPool(opts.Workers, opts.QueueSize, e.process)
	return e
}

// Start launches the dispatch workers. Non-blocking.
func (e *Engine) Start(ctx context.Context) {
	e.pool.Start(ctx)
	slog.Info("notification engine started", "sink", e.sink.Name(), "workers", e.opts.Workers)
}

// Stop waits for queued and in-flight dispatches to finish.
func (e *Engine) Stop() {
	e.pool.Stop()
	slog.Info("notification engine stopped")
}

// Evaluate applies the severity rule. It never blocks on the sink.
func (e *Engine) Evaluate(ev models.AlertEvent) State {
	if ev.Severity != models.SeverityHigh {
		slog.Debug("no notification for severity", "source_id", ev.SourceID, "severity", ev.Severity)
		return StateNoAction
	}

	req := BuildRequest(ev, e.opts.Recipient)
	if !e.pool.TrySubmit(req) {
		req.Outcome = models.DispatchFailed
		req.Err = ErrQueueFull
		e.record(req)
	}
	return StateDispatched
}

func (e *Engine) process(ctx context.Context, job worker.Job) error {
	req := job.(models.NotificationRequest)

	// Shutdown must not cut a dispatch short, only the send timeout may.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.SendTimeout)
	defer cancel()

	err := e.send(sendCtx, req)
	if err != nil {
		req.Outcome = models.DispatchFailed
		req.Err = err
	} else {
		req.Outcome = models.DispatchSent
	}
	e.record(req)
	return err
}

func (e *Engine) send(ctx context.Context, req models.NotificationRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", e.sink.Name(), r)
		}
	}()
	return e.sink.Send(ctx, req.Subject, req.Body, req.Recipient)
}

func (e *Engine) record(req models.NotificationRequest) {
	e.metrics.NotifyDispatches.WithLabelValues(string(req.Outcome)).Inc()

	if req.Outcome == models.DispatchFailed {
		slog.Error("notification dispatch failed",
			"sink", e.sink.Name(),
			"source_id", req.Event.SourceID,
			"error", req.Err,
		)
	} else {
		slog.Info("notification sent",
			"sink", e.sink.Name(),
			"source_id", req.Event.SourceID,
			"recipient", req.Recipient,
		)
	}

	if e.opts.OnOutcome != nil {
		e.opts.OnOutcome(req)
	}
}
