package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/repository"
)

var ErrAlreadyRunning = errors.New("change feed watcher already running")

// Source opens insert streams. Report stores and the Kafka source implement it.
type Source interface {
	SubscribeInserts(ctx context.Context, resumeToken string) (repository.InsertStream, error)
}

type Options struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Buffer     int
	Clock      clockwork.Clock
}

// Watcher keeps a single subscription open against a Source and forwards
// every record on Records. It survives any number of subscription failures.
type Watcher struct {
	source  Source
	opts    Options
	metrics *metrics.Metrics
	records chan models.RawRecord
	running atomic.Bool

	// last resume token seen; only touched by Run
	token string
}

func NewWatcher(source Source, opts Options, m *metrics.Metrics) *Watcher {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 200 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Watcher{
		source:  source,
		opts:    opts,
		metrics: m,
		records: make(chan models.RawRecord, opts.Buffer),
	}
}

// Records is closed when Run returns.
func (w *Watcher) Records() <-chan models.RawRecord {
	return w.records
}

// Run blocks until ctx is cancelled. A watcher runs at most once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(w.records)

	backoff := w.opts.MinBackoff
	attempt := 0

	for {
		if ctx.Err() != nil {
			slog.Info("change feed watcher stopping", "reason", ctx.Err())
			return nil
		}

		stream, err := w.source.SubscribeInserts(ctx, w.token)
		if err == nil {
			// Pin the resolved start so a stream that fails before its
			// first record resumes here instead of at the new tail.
			if pos := stream.Position(); pos != "" {
				w.token = pos
			}
			slog.Info("change feed subscribed", "resume_token", w.token)
			var received bool
			received, err = w.consume(ctx, stream)
			if cerr := stream.Close(); cerr != nil {
				slog.Warn("closing change feed stream", "error", cerr)
			}
			if received {
				backoff = w.opts.MinBackoff
				attempt = 0
			}
		}

		if ctx.Err() != nil {
			slog.Info("change feed watcher stopping", "reason", ctx.Err())
			return nil
		}

		attempt++
		w.metrics.Resubscribes.Inc()
		slog.Warn("change feed subscription lost, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"resume_token", w.token,
			"error", err,
		)
		if !sleepWithContext(ctx, w.opts.Clock, backoff) {
			slog.Info("change feed watcher stopping", "reason", ctx.Err())
			return nil
		}
		backoff = nextBackoff(backoff, w.opts.MaxBackoff)
	}
}

// consume forwards records until the stream fails. It reports whether any
// record came through, which resets the backoff.
func (w *Watcher) consume(ctx context.Context, stream repository.InsertStream) (bool, error) {
	received := false
	for {
		rec, err := stream.Next(ctx)
		if err != nil {
			return received, err
		}
		received = true
		if rec.ResumeToken != "" {
			w.token = rec.ResumeToken
		}
		w.metrics.RecordsReceived.Inc()

		select {
		case w.records <- rec:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
