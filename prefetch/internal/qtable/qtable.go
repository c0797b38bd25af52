// Package qtable stores and updates the per-signature action values.
package qtable

import (
	"container/list"
	"fmt"

	"github.com/sarchlab/qfetch/prefetch/internal/signature"
)

type row struct {
	sig    signature.Signature
	values []float64
}

// A Table is a sparse mapping from signatures to action-value vectors.
// Rows are created as all zeros the first time a signature is touched.
// When a capacity is set, the least recently touched row is evicted to
// admit a new one.
type Table struct {
	numActions int
	capacity   int

	rows     map[signature.Signature]*list.Element
	lruQueue *list.List
}

// NewTable creates a table whose rows hold numActions values. A capacity
// of zero leaves the table unbounded.
func NewTable(numActions, capacity int) *Table {
	if numActions <= 0 {
		panic(fmt.Sprintf(
			"action set must not be empty, given %d actions", numActions))
	}

	if capacity < 0 {
		panic(fmt.Sprintf("table capacity must not be negative, given %d",
			capacity))
	}

	return &Table{
		numActions: numActions,
		capacity:   capacity,
		rows:       make(map[signature.Signature]*list.Element),
		lruQueue:   list.New(),
	}
}

// Row returns the live action-value vector of a signature, creating a
// zero row on first touch. Touching a row marks it most recently used.
func (t *Table) Row(sig signature.Signature) []float64 {
	elem, ok := t.rows[sig]
	if ok {
		t.lruQueue.MoveToBack(elem)

		r := elem.Value.(*row)
		if len(r.values) != t.numActions {
			panic(fmt.Sprintf(
				"corrupted row for signature %d: %d values, want %d",
				sig, len(r.values), t.numActions))
		}

		return r.values
	}

	if t.capacity > 0 && t.lruQueue.Len() == t.capacity {
		front := t.lruQueue.Front()
		victim := front.Value.(*row)

		t.lruQueue.Remove(front)
		delete(t.rows, victim.sig)
	}

	r := &row{
		sig:    sig,
		values: make([]float64, t.numActions),
	}
	t.rows[sig] = t.lruQueue.PushBack(r)

	return r.values
}

// Max returns the largest action value of a signature.
func (t *Table) Max(sig signature.Signature) float64 {
	values := t.Row(sig)

	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}

	return max
}

// Len returns the number of materialized rows.
func (t *Table) Len() int {
	return t.lruQueue.Len()
}

// NumActions returns the length of every row.
func (t *Table) NumActions() int {
	return t.numActions
}

// A Learner applies the single-step tabular Q-learning update to a table
// once a reward resolves.
type Learner struct {
	table *Table
	alpha float64
	gamma float64
}

// NewLearner creates a learner with learning rate alpha in (0, 1] and
// discount gamma in [0, 1).
func NewLearner(table *Table, alpha, gamma float64) *Learner {
	if alpha <= 0 || alpha > 1 {
		panic(fmt.Sprintf("learning rate must be in (0, 1], given %f", alpha))
	}

	if gamma < 0 || gamma >= 1 {
		panic(fmt.Sprintf("discount must be in [0, 1), given %f", gamma))
	}

	return &Learner{
		table: table,
		alpha: alpha,
		gamma: gamma,
	}
}

// Learn applies Q(s,a) += alpha * (r + gamma*max_a' Q(s',a') - Q(s,a)).
func (l *Learner) Learn(
	sig signature.Signature,
	action int,
	reward float64,
	next signature.Signature,
) {
	// Read the bootstrap value first so that materializing the next row
	// cannot evict the row being updated.
	best := l.table.Max(next)

	row := l.table.Row(sig)
	if action < 0 || action >= len(row) {
		panic(fmt.Sprintf("action %d out of range [0, %d)", action, len(row)))
	}

	row[action] += l.alpha * (reward + l.gamma*best - row[action])
}
