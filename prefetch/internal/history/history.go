// Package history tracks per-context block-address delta histories.
package history

import (
	"container/list"
	"fmt"
)

// A DeltaHistory is a ring of the most recent deltas of one context,
// oldest first. Its length never exceeds the configured depth.
type DeltaHistory struct {
	deltas []int64
	depth  int
}

// NewDeltaHistory creates a history that retains up to depth deltas.
func NewDeltaHistory(depth int) *DeltaHistory {
	if depth <= 0 {
		panic(fmt.Sprintf("history depth must be positive, given %d", depth))
	}

	return &DeltaHistory{
		deltas: make([]int64, 0, depth),
		depth:  depth,
	}
}

// Push appends a delta, dropping the oldest one when at capacity.
func (h *DeltaHistory) Push(delta int64) {
	if len(h.deltas) == h.depth {
		copy(h.deltas, h.deltas[1:])
		h.deltas[h.depth-1] = delta
		return
	}

	h.deltas = append(h.deltas, delta)
}

// Len returns the number of retained deltas.
func (h *DeltaHistory) Len() int {
	return len(h.deltas)
}

// Snapshot returns a copy of the retained deltas, oldest first.
func (h *DeltaHistory) Snapshot() []int64 {
	snap := make([]int64, len(h.deltas))
	copy(snap, h.deltas)

	return snap
}

type contextState struct {
	context   uint64
	lastBlock uint64
	history   *DeltaHistory
}

// A Table maps contexts to their delta histories. It holds at most
// capacity contexts and evicts the least recently used one when a new
// context arrives at capacity.
type Table struct {
	depth    int
	capacity int

	contexts map[uint64]*list.Element
	lruQueue *list.List
}

// NewTable creates a context table.
func NewTable(depth, capacity int) *Table {
	if capacity <= 0 {
		panic(fmt.Sprintf(
			"context table capacity must be positive, given %d", capacity))
	}

	return &Table{
		depth:    depth,
		capacity: capacity,
		contexts: make(map[uint64]*list.Element),
		lruQueue: list.New(),
	}
}

// Observe records a block access under a context. It returns the delta
// from the previous block in the same context, a snapshot of the updated
// history, and whether the context was warm (had a previous block). The
// first observation of a context produces no delta. When admitting a new
// context forces an eviction, the evicted context is returned so that its
// pending work can be forfeited.
func (t *Table) Observe(context, block uint64) (
	delta int64,
	snapshot []int64,
	warm bool,
	evicted uint64,
	hasEvicted bool,
) {
	elem, ok := t.contexts[context]
	if !ok {
		evicted, hasEvicted = t.admit(context, block)
		return 0, nil, false, evicted, hasEvicted
	}

	t.lruQueue.MoveToBack(elem)

	state := elem.Value.(*contextState)
	delta = int64(block) - int64(state.lastBlock)
	state.lastBlock = block
	state.history.Push(delta)

	return delta, state.history.Snapshot(), true, 0, false
}

// Len returns the number of tracked contexts.
func (t *Table) Len() int {
	return t.lruQueue.Len()
}

func (t *Table) admit(context, block uint64) (evicted uint64, ok bool) {
	if t.lruQueue.Len() == t.capacity {
		front := t.lruQueue.Front()
		victim := front.Value.(*contextState)

		t.lruQueue.Remove(front)
		delete(t.contexts, victim.context)

		evicted, ok = victim.context, true
	}

	state := &contextState{
		context:   context,
		lastBlock: block,
		history:   NewDeltaHistory(t.depth),
	}
	t.contexts[context] = t.lruQueue.PushBack(state)

	return evicted, ok
}
