package repository

import (
	"context"
	"strconv"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

// maxTrackedGaps bounds how many skipped seqs a stream keeps rechecking.
// Seqs from rolled back inserts never show up and age out of the window.
const maxTrackedGaps = 1024

// tailStream walks the reports table in seq order. fetch returns rows with
// seq > after; wait blocks until more rows may exist.
//
// When backfill is set, seqs passed over while advancing are remembered and
// re-read on every catch-up, so a row whose transaction commits after a
// higher seq has been returned is still delivered.
type tailStream struct {
	after   int64
	pending []reportRow
	closed  bool
	gaps    *seqGaps

	fetch    func(ctx context.Context, after int64) ([]reportRow, error)
	backfill func(ctx context.Context, seqs []int64) ([]reportRow, error)
	wait     func(ctx context.Context) error
	onClose  func() error
}

func (s *tailStream) Next(ctx context.Context) (models.RawRecord, error) {
	for {
		if s.closed {
			return models.RawRecord{}, ErrStreamClosed
		}

		if len(s.pending) > 0 {
			row := s.pending[0]
			s.pending = s.pending[1:]
			if row.Seq > s.after {
				s.gaps.skip(s.after, row.Seq)
				s.after = row.Seq
			}
			rec := row.toRawRecord()
			// Late rows carry a seq below the position; resuming from it
			// would replay everything after.
			rec.ResumeToken = s.Position()
			return rec, nil
		}

		rows, err := s.catchUp(ctx)
		if err != nil {
			return models.RawRecord{}, err
		}
		if len(rows) > 0 {
			s.pending = rows
			continue
		}

		if err := s.wait(ctx); err != nil {
			return models.RawRecord{}, err
		}
	}
}

func (s *tailStream) catchUp(ctx context.Context) ([]reportRow, error) {
	var rows []reportRow
	if s.backfill != nil && s.gaps.len() > 0 {
		late, err := s.backfill(ctx, s.gaps.list())
		if err != nil {
			return nil, err
		}
		for _, row := range late {
			s.gaps.remove(row.Seq)
		}
		rows = late
	}

	more, err := s.fetch(ctx, s.after)
	if err != nil {
		return nil, err
	}
	return append(rows, more...), nil
}

func (s *tailStream) Position() string {
	return strconv.FormatInt(s.after, 10)
}

func (s *tailStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	if s.onClose != nil {
		return s.onClose()
	}
	return nil
}

// seqGaps is a bounded, insertion-ordered set of seqs. A nil *seqGaps
// tracks nothing.
type seqGaps struct {
	limit int
	set   map[int64]struct{}
	order []int64
}

func newSeqGaps(limit int) *seqGaps {
	return &seqGaps{limit: limit, set: make(map[int64]struct{})}
}

// skip records every seq strictly between from and to, keeping at most the
// last limit of them.
func (g *seqGaps) skip(from, to int64) {
	if g == nil || to-from <= 1 {
		return
	}
	start := from + 1
	if to-start > int64(g.limit) {
		start = to - int64(g.limit)
	}
	for seq := start; seq < to; seq++ {
		g.add(seq)
	}
}

func (g *seqGaps) add(seq int64) {
	if _, ok := g.set[seq]; ok {
		return
	}
	g.set[seq] = struct{}{}
	g.order = append(g.order, seq)
	for len(g.set) > g.limit {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.set, oldest)
	}
}

func (g *seqGaps) remove(seq int64) {
	if g == nil {
		return
	}
	delete(g.set, seq)
	if len(g.order) > 2*g.limit {
		g.compact()
	}
}

func (g *seqGaps) compact() {
	kept := g.order[:0]
	for _, seq := range g.order {
		if _, ok := g.set[seq]; ok {
			kept = append(kept, seq)
		}
	}
	g.order = kept
}

func (g *seqGaps) len() int {
	if g == nil {
		return 0
	}
	return len(g.set)
}

func (g *seqGaps) list() []int64 {
	if g == nil {
		return nil
	}
	seqs := make([]int64, 0, len(g.set))
	for _, seq := range g.order {
		if _, ok := g.set[seq]; ok {
			seqs = append(seqs, seq)
		}
	}
	return seqs
}
