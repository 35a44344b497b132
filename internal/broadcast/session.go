package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrDeliveryTimeout = errors.New("session delivery timed out")
)

// ChannelSession is a Handle backed by a buffered channel. The transport
// drains Events and stops when Done is closed.
type ChannelSession struct {
	events chan models.AlertEvent
	done   chan struct{}
	once   sync.Once
}

func NewChannelSession(buffer int) *ChannelSession {
	return &ChannelSession{
		events: make(chan models.AlertEvent, buffer),
		done:   make(chan struct{}),
	}
}

func (s *ChannelSession) Deliver(ctx context.Context, ev models.AlertEvent) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ErrDeliveryTimeout
	}
}

// Events is never closed; select on Done as well.
func (s *ChannelSession) Events() <-chan models.AlertEvent {
	return s.events
}

func (s *ChannelSession) Done() <-chan struct{} {
	return s.done
}

func (s *ChannelSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
