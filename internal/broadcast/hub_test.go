package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/models"
)

type failingHandle struct {
	closed chan struct{}
	once   sync.Once
}

func newFailingHandle() *failingHandle {
	return &failingHandle{closed: make(chan struct{})}
}

func (h *failingHandle) Deliver(ctx context.Context, ev models.AlertEvent) error {
	return errors.New("broken pipe")
}

func (h *failingHandle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

// blockingHandle never accepts an event; it only gives up when ctx ends.
type blockingHandle struct{}

func (blockingHandle) Deliver(ctx context.Context, ev models.AlertEvent) error {
	<-ctx.Done()
	return ErrDeliveryTimeout
}

func (blockingHandle) Close() error { return nil }

type panickingHandle struct{}

func (panickingHandle) Deliver(ctx context.Context, ev models.AlertEvent) error {
	panic("transport exploded")
}

func (panickingHandle) Close() error { return nil }

func testEvent(id string) models.AlertEvent {
	return models.AlertEvent{
		DisasterType: "Flood",
		LocationText: "Assam",
		Severity:     models.SeverityHigh,
		OccurredAt:   time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC),
		SourceID:     id,
	}
}

func newTestHub(timeout time.Duration) (*Hub, *Registry, *metrics.Metrics) {
	m := metrics.NewForTesting()
	r := NewRegistry(nil)
	return NewHub(r, timeout, m), r, m
}

func TestHub_PublishReachesEverySession(t *testing.T) {
	hub, reg, _ := newTestHub(100 * time.Millisecond)

	handles := []*recordingHandle{{}, {}, {}}
	for _, h := range handles {
		reg.Connect(h)
	}

	hub.Publish(testEvent("r1"))

	for i, h := range handles {
		got := h.received()
		if len(got) != 1 {
			t.Fatalf("session %d: expected exactly 1 event, got %d", i, len(got))
		}
		if got[0].SourceID != "r1" || got[0].Severity != models.SeverityHigh {
			t.Errorf("session %d: unexpected event %+v", i, got[0])
		}
	}
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	hub, reg, _ := newTestHub(100 * time.Millisecond)

	handles := []*recordingHandle{{}, {}, {}, {}}
	for _, h := range handles {
		reg.Connect(h)
	}

	for i := 0; i < 20; i++ {
		hub.Publish(testEvent(fmt.Sprintf("r%d", i)))
	}

	for i, h := range handles {
		got := h.received()
		if len(got) != 20 {
			t.Fatalf("session %d: expected 20 events, got %d", i, len(got))
		}
		for j, ev := range got {
			if want := fmt.Sprintf("r%d", j); ev.SourceID != want {
				t.Errorf("session %d position %d: expected %s, got %s", i, j, want, ev.SourceID)
			}
		}
	}
}

func TestHub_FailingSessionIsRemovedOthersStillReceive(t *testing.T) {
	hub, reg, m := newTestHub(100 * time.Millisecond)

	good := &recordingHandle{}
	bad := newFailingHandle()
	reg.Connect(good)
	badID := reg.Connect(bad)

	hub.Publish(testEvent("r1"))

	if len(good.received()) != 1 {
		t.Errorf("expected healthy session to receive the event")
	}
	if _, ok := reg.Remove(badID); ok {
		t.Error("expected failing session to be removed already")
	}
	select {
	case <-bad.closed:
	default:
		t.Error("expected failing session handle to be closed")
	}
	if got := testutil.ToFloat64(m.DeliveryFailures); got != 1 {
		t.Errorf("expected 1 delivery failure, got %v", got)
	}

	// Later events only go to the remaining session.
	hub.Publish(testEvent("r2"))
	if len(good.received()) != 2 {
		t.Errorf("expected 2 events for healthy session, got %d", len(good.received()))
	}
}

func TestHub_SlowSessionDoesNotStallPublish(t *testing.T) {
	hub, reg, _ := newTestHub(50 * time.Millisecond)

	good := &recordingHandle{}
	reg.Connect(good)
	reg.Connect(blockingHandle{})
	reg.Connect(blockingHandle{})

	start := time.Now()
	hub.Publish(testEvent("r1"))
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("publish took %v, expected it bounded by the delivery timeout", elapsed)
	}
	if len(good.received()) != 1 {
		t.Error("expected healthy session to receive the event")
	}
	if reg.Count() != 1 {
		t.Errorf("expected slow sessions to be dropped, %d remain", reg.Count())
	}
}

func TestHub_PanickingHandleIsIsolated(t *testing.T) {
	hub, reg, _ := newTestHub(50 * time.Millisecond)

	good := &recordingHandle{}
	reg.Connect(good)
	reg.Connect(panickingHandle{})

	hub.Publish(testEvent("r1"))

	if len(good.received()) != 1 {
		t.Error("expected healthy session to receive the event")
	}
	if reg.Count() != 1 {
		t.Errorf("expected panicking session to be dropped, %d remain", reg.Count())
	}
}

func TestHub_SessionRemovedBeforePublishGetsNothing(t *testing.T) {
	hub, reg, _ := newTestHub(50 * time.Millisecond)

	h := &recordingHandle{}
	id := reg.Connect(h)
	reg.Remove(id)

	hub.Publish(testEvent("r1"))

	if len(h.received()) != 0 {
		t.Errorf("expected no events after disconnect, got %d", len(h.received()))
	}
}

func TestHub_DisconnectDuringPublishAtMostOnce(t *testing.T) {
	hub, reg, _ := newTestHub(50 * time.Millisecond)

	handles := make([]*recordingHandle, 50)
	ids := make([]string, 50)
	for i := range handles {
		handles[i] = &recordingHandle{}
		ids[i] = reg.Connect(handles[i])
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			reg.Remove(id)
		}
	}()
	hub.Publish(testEvent("r1"))
	wg.Wait()

	for i, h := range handles {
		if n := len(h.received()); n > 1 {
			t.Errorf("session %d received %d copies", i, n)
		}
	}
}

func TestHub_PublishWithNoSessions(t *testing.T) {
	hub, _, m := newTestHub(50 * time.Millisecond)
	hub.Publish(testEvent("r1"))

	if got := testutil.ToFloat64(m.EventsBroadcast); got != 1 {
		t.Errorf("expected broadcast counter 1, got %v", got)
	}
}

func TestHub_ConcurrentConnectDuringPublish(t *testing.T) {
	hub, reg, _ := newTestHub(50 * time.Millisecond)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewChannelSession(64)
			id := reg.Connect(s)
			time.Sleep(2 * time.Millisecond)
			reg.Remove(id)
			s.Close()
		}()
	}

	for i := 0; i < 20; i++ {
		hub.Publish(testEvent(fmt.Sprintf("r%d", i)))
	}
	wg.Wait()

	if reg.Count() != 0 {
		t.Errorf("expected 0 sessions, got %d", reg.Count())
	}
}

func TestChannelSession_Deliver(t *testing.T) {
	s := NewChannelSession(1)

	if err := s.Deliver(context.Background(), testEvent("r1")); err != nil {
		t.Fatalf("expected delivery into buffer, got %v", err)
	}
	select {
	case ev := <-s.Events():
		if ev.SourceID != "r1" {
			t.Errorf("expected r1, got %s", ev.SourceID)
		}
	default:
		t.Fatal("expected buffered event")
	}
}

func TestChannelSession_FullBufferTimesOut(t *testing.T) {
	s := NewChannelSession(1)
	s.Deliver(context.Background(), testEvent("r1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := s.Deliver(ctx, testEvent("r2")); !errors.Is(err, ErrDeliveryTimeout) {
		t.Errorf("expected ErrDeliveryTimeout, got %v", err)
	}
}

func TestChannelSession_Closed(t *testing.T) {
	s := NewChannelSession(4)
	s.Close()
	s.Close()

	if err := s.Deliver(context.Background(), testEvent("r1")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("expected Done to be closed")
	}
}
