// Package ledger tracks issued prefetches until their reward resolves.
package ledger

import (
	"fmt"

	"github.com/sarchlab/qfetch/prefetch/internal/signature"
)

// Outcome classifies how a pending prefetch resolved.
type Outcome int

const (
	// OutcomeHit means a demand access matched the prediction within the
	// early window.
	OutcomeHit Outcome = iota

	// OutcomeLate means a demand access matched the prediction, but only
	// after the early window had passed.
	OutcomeLate

	// OutcomeExpired means no demand access matched the prediction within
	// the reward window.
	OutcomeExpired
)

// A Pending is one issued prefetch awaiting a verdict.
type Pending struct {
	Context        uint64
	Sig            signature.Signature
	Action         int
	Next           signature.Signature
	PredictedBlock uint64
	IssuedAt       uint64
}

// A Resolution is the reward attribution of one pending prefetch, ready
// to be fed to the learner.
type Resolution struct {
	Sig     signature.Signature
	Action  int
	Reward  float64
	Next    signature.Signature
	Outcome Outcome
}

// A Ledger holds pending prefetches per context. Each context holds at
// most the configured number of entries; registering past capacity drops
// the oldest entry without a learning signal.
type Ledger struct {
	capacityPerContext int
	earlyWindow        uint64
	rewardWindow       uint64
	rewardHit          float64
	rewardLate         float64
	rewardMiss         float64

	pending     map[uint64][]Pending
	outstanding int
}

// New creates a ledger. A prediction matched within earlyWindow steps of
// issue earns rewardHit, one matched later but within rewardWindow earns
// rewardLate, and one that outlives rewardWindow earns rewardMiss.
func New(
	capacityPerContext int,
	earlyWindow, rewardWindow uint64,
	rewardHit, rewardLate, rewardMiss float64,
) *Ledger {
	if capacityPerContext <= 0 {
		panic(fmt.Sprintf(
			"ledger capacity must be positive, given %d", capacityPerContext))
	}

	if earlyWindow > rewardWindow {
		panic(fmt.Sprintf(
			"early window %d must not exceed reward window %d",
			earlyWindow, rewardWindow))
	}

	return &Ledger{
		capacityPerContext: capacityPerContext,
		earlyWindow:        earlyWindow,
		rewardWindow:       rewardWindow,
		rewardHit:          rewardHit,
		rewardLate:         rewardLate,
		rewardMiss:         rewardMiss,
		pending:            make(map[uint64][]Pending),
	}
}

// Register adds a pending prefetch. It reports how many entries were
// dropped to make room.
func (l *Ledger) Register(p Pending) (dropped int) {
	entries := l.pending[p.Context]

	for len(entries) >= l.capacityPerContext {
		entries = entries[1:]
		dropped++
	}

	l.pending[p.Context] = append(entries, p)
	l.outstanding += 1 - dropped

	return dropped
}

// Resolve matches a demand access against the pending entries of its
// context. Entries whose predicted block matches resolve positively,
// scaled by timeliness; entries older than the reward window resolve with
// the miss reward. Resolved entries are removed. Resolutions are returned
// in issue order.
func (l *Ledger) Resolve(context, block, now uint64) []Resolution {
	entries, ok := l.pending[context]
	if !ok {
		return nil
	}

	var resolutions []Resolution

	kept := entries[:0]
	for _, p := range entries {
		age := now - p.IssuedAt

		switch {
		case age > l.rewardWindow:
			resolutions = append(resolutions, l.resolve(p, OutcomeExpired))
		case p.PredictedBlock == block && age <= l.earlyWindow:
			resolutions = append(resolutions, l.resolve(p, OutcomeHit))
		case p.PredictedBlock == block:
			resolutions = append(resolutions, l.resolve(p, OutcomeLate))
		default:
			kept = append(kept, p)
		}
	}

	if len(kept) == 0 {
		delete(l.pending, context)
	} else {
		l.pending[context] = kept
	}

	l.outstanding -= len(resolutions)

	return resolutions
}

// ForfeitContext drops all pending entries of an evicted context without
// a learning signal. It returns the number of dropped entries.
func (l *Ledger) ForfeitContext(context uint64) int {
	entries, ok := l.pending[context]
	if !ok {
		return 0
	}

	delete(l.pending, context)
	l.outstanding -= len(entries)

	return len(entries)
}

// Outstanding returns the total number of pending entries.
func (l *Ledger) Outstanding() int {
	return l.outstanding
}

// OutstandingInContext returns the number of pending entries of one
// context.
func (l *Ledger) OutstandingInContext(context uint64) int {
	return len(l.pending[context])
}

func (l *Ledger) resolve(p Pending, outcome Outcome) Resolution {
	reward := l.rewardMiss

	switch outcome {
	case OutcomeHit:
		reward = l.rewardHit
	case OutcomeLate:
		reward = l.rewardLate
	}

	return Resolution{
		Sig:     p.Sig,
		Action:  p.Action,
		Reward:  reward,
		Next:    p.Next,
		Outcome: outcome,
	}
}
