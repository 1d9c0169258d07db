package pipeline

import (
	"time"
)

type pending struct {
	entry   LogEntry
	arrived time.Time
}

// Reorderer merges entries from several sources into timestamp order. Each
// source keeps its own FIFO queue, so entries of one source are never
// reordered among themselves; across sources the head with the earliest
// timestamp goes first. A head is held back until it has waited for the
// window, giving a late entry from another source the chance to overtake it.
// Ties are broken by source name so the output is deterministic.
type Reorderer struct {
	window time.Duration
	now    func() time.Time
	queues map[string][]pending
	size   int
}

func NewReorderer(window time.Duration) *Reorderer {
	return &Reorderer{
		window: window,
		now:    time.Now,
		queues: make(map[string][]pending),
	}
}

// Push queues e behind earlier entries of the same source.
func (r *Reorderer) Push(e LogEntry) {
	r.queues[e.Source] = append(r.queues[e.Source], pending{entry: e, arrived: r.now()})
	r.size++
}

// Len returns the number of queued entries.
func (r *Reorderer) Len() int {
	return r.size
}

// Pop removes and returns every entry that is ready. With force every queued
// entry is returned.
func (r *Reorderer) Pop(force bool) []LogEntry {
	var out []LogEntry
	now := r.now()

	for {
		best := ""
		for source, q := range r.queues {
			if len(q) == 0 {
				continue
			}
			if best == "" {
				best = source
				continue
			}
			head, cur := q[0].entry.Timestamp, r.queues[best][0].entry.Timestamp
			if head.Before(cur) || (head.Equal(cur) && source < best) {
				best = source
			}
		}
		if best == "" {
			break
		}

		head := r.queues[best][0]
		if !force && now.Sub(head.arrived) < r.window {
			break
		}

		out = append(out, head.entry)
		r.queues[best] = r.queues[best][1:]
		r.size--
		if len(r.queues[best]) == 0 {
			delete(r.queues, best)
		}
	}

	return out
}
