package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

// Handle reaches one observer's transport. Deliver must honour ctx so a slow
// transport cannot hold up a broadcast past its deadline.
type Handle interface {
	Deliver(ctx context.Context, ev models.AlertEvent) error
	Close() error
}

// Session is a registry entry as returned by Snapshot.
type Session struct {
	ID          string
	ConnectedAt time.Time
	Handle      Handle
}

// Registry tracks connected sessions. It is the only state the hub shares
// with the transports.
type Registry struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	sessions map[string]Session

	onChange func(count int)
}

func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		clock:    clock,
		sessions: make(map[string]Session),
	}
}

// OnChange registers fn to be called with the session count after every
// add or remove. Set it before the registry is shared; fn must not call back
// into the registry.
func (r *Registry) OnChange(fn func(count int)) {
	r.onChange = fn
}

// Connect registers h under a fresh session id and returns the id.
func (r *Registry) Connect(h Handle) string {
	id := uuid.NewString()
	r.Add(id, h)
	return id
}

// Add registers h under id. Adding an id that is already present is a no-op
// and reports false.
func (r *Registry) Add(id string, h Handle) bool {
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return false
	}
	r.sessions[id] = Session{ID: id, ConnectedAt: r.clock.Now(), Handle: h}
	r.changed(len(r.sessions))
	r.mu.Unlock()
	return true
}

// Remove drops the session and returns its handle. Removing an unknown id is
// a no-op and reports false.
func (r *Registry) Remove(id string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	r.changed(len(r.sessions))
	return s.Handle, true
}

// Snapshot returns a copy of the current sessions, safe to iterate while
// other goroutines add and remove.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close removes every session and closes its handle, so transports exit.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]Session)
	r.changed(0)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Handle.Close()
	}
}

// changed runs with mu held so the reported counts stay ordered.
func (r *Registry) changed(n int) {
	if r.onChange != nil {
		r.onChange(n)
	}
}
