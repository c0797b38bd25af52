// Package prefetch implements an online Q-learning cache-block
// prefetcher. The engine learns, with no offline training, which block a
// program will touch next by folding recent access deltas into compact
// signatures and keeping action values per signature.
package prefetch

import (
	"fmt"

	"github.com/sarchlab/qfetch/prefetch/internal/history"
	"github.com/sarchlab/qfetch/prefetch/internal/ledger"
	"github.com/sarchlab/qfetch/prefetch/internal/policy"
	"github.com/sarchlab/qfetch/prefetch/internal/qtable"
	"github.com/sarchlab/qfetch/prefetch/internal/signature"
	"github.com/sarchlab/qfetch/trace"
)

// A Prefetch is one predicted block fetch emitted by the engine.
type Prefetch struct {
	// InstrID is the instruction whose access triggered the prediction.
	InstrID uint64

	// Addr is the predicted byte address.
	Addr uint64

	// Block is the predicted cache-block number.
	Block uint64

	// Delta is the chosen block offset from the triggering access.
	Delta int64

	// Value is the action value that led to the selection.
	Value float64
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Events           uint64
	SkippedEvents    uint64
	ColdAccesses     uint64
	PrefetchesIssued uint64
	Hits             uint64
	LateHits         uint64
	Expired          uint64
	Forfeited        uint64
	DroppedPending   uint64

	Contexts    int
	Rows        int
	Outstanding int
	Epsilon     float64
}

// An Engine turns a serial stream of access events into prefetch
// predictions. It owns all learning state and must be fed events one at a
// time in instruction order.
type Engine struct {
	log2BlockSize uint
	log2PageSize  uint
	actions       []int64

	codec    *signature.Codec
	contexts *history.Table
	table    *qtable.Table
	learner  *qtable.Learner
	selector *policy.Selector
	ledger   *ledger.Ledger

	seenAny bool
	lastID  uint64
	step    uint64
	stats   Stats
}

// Observe processes one access event and returns the prefetches it
// triggers, in issue order. An event whose instruction ID does not follow
// the previous one is rejected without touching any table.
func (e *Engine) Observe(ev trace.AccessEvent) ([]Prefetch, error) {
	if e.seenAny && ev.ID <= e.lastID {
		e.stats.SkippedEvents++
		return nil, fmt.Errorf(
			"event %d does not follow %d, skipping", ev.ID, e.lastID)
	}

	e.seenAny = true
	e.lastID = ev.ID
	e.step++
	e.stats.Events++

	block := ev.Block(e.log2BlockSize)
	context := ev.Page(e.log2PageSize)

	e.resolveRewards(context, block)

	_, snapshot, warm, evicted, hasEvicted :=
		e.contexts.Observe(context, block)
	if hasEvicted {
		e.stats.Forfeited += uint64(e.ledger.ForfeitContext(evicted))
	}

	if !warm {
		e.stats.ColdAccesses++
		return nil, nil
	}

	sig := e.codec.Encode(snapshot)
	row := e.table.Row(sig)
	action := e.selector.Select(row)

	delta := e.actions[action]
	if delta == 0 {
		return nil, nil
	}

	predicted := int64(block) + delta
	if predicted < 0 {
		// The prediction fell below the address space. Treat it as
		// no-prefetch.
		return nil, nil
	}

	return e.issue(ev, context, sig, action, uint64(predicted), row), nil
}

// Stats returns a snapshot of the engine counters and table sizes.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Contexts = e.contexts.Len()
	s.Rows = e.table.Len()
	s.Outstanding = e.ledger.Outstanding()
	s.Epsilon = e.selector.Epsilon()

	return s
}

// ActionSet returns the block deltas the engine chooses from.
func (e *Engine) ActionSet() []int64 {
	actions := make([]int64, len(e.actions))
	copy(actions, e.actions)

	return actions
}

func (e *Engine) resolveRewards(context, block uint64) {
	for _, r := range e.ledger.Resolve(context, block, e.step) {
		e.learner.Learn(r.Sig, r.Action, r.Reward, r.Next)

		switch r.Outcome {
		case ledger.OutcomeHit:
			e.stats.Hits++
		case ledger.OutcomeLate:
			e.stats.LateHits++
		case ledger.OutcomeExpired:
			e.stats.Expired++
		}
	}
}

func (e *Engine) issue(
	ev trace.AccessEvent,
	context uint64,
	sig signature.Signature,
	action int,
	predictedBlock uint64,
	row []float64,
) []Prefetch {
	dropped := e.ledger.Register(ledger.Pending{
		Context:        context,
		Sig:            sig,
		Action:         action,
		Next:           e.codec.Next(sig, e.actions[action]),
		PredictedBlock: predictedBlock,
		IssuedAt:       e.step,
	})

	e.stats.DroppedPending += uint64(dropped)
	e.stats.PrefetchesIssued++

	return []Prefetch{{
		InstrID: ev.ID,
		Addr:    predictedBlock << e.log2BlockSize,
		Block:   predictedBlock,
		Delta:   e.actions[action],
		Value:   row[action],
	}}
}
