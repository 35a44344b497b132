package notify

import (
	"context"
	"log/slog"
)

// Sink is an outbound notification channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, subject, body, recipient string) error
}

// LogSink only logs. It is the default when no real channel is configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(ctx context.Context, subject, body, recipient string) error {
	slog.Info("notification", "sink", "log", "recipient", recipient, "subject", subject)
	return nil
}
