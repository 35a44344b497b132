package ingestion

// recentIDs remembers the last size source ids in insertion order.
type recentIDs struct {
	ring []string
	next int
	seen map[string]struct{}
}

func newRecentIDs(size int) *recentIDs {
	if size <= 0 {
		return nil
	}
	return &recentIDs{
		ring: make([]string, size),
		seen: make(map[string]struct{}, size),
	}
}

// observe records id and reports whether it was already in the window.
// A nil window never reports duplicates.
func (r *recentIDs) observe(id string) bool {
	if r == nil {
		return false
	}
	if _, ok := r.seen[id]; ok {
		return true
	}

	if old := r.ring[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.next] = id
	r.seen[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return false
}
