package prefetch

import (
	"fmt"
	"math/bits"

	"github.com/sarchlab/qfetch/prefetch/internal/history"
	"github.com/sarchlab/qfetch/prefetch/internal/ledger"
	"github.com/sarchlab/qfetch/prefetch/internal/policy"
	"github.com/sarchlab/qfetch/prefetch/internal/qtable"
	"github.com/sarchlab/qfetch/prefetch/internal/signature"
)

// A Builder can build prediction engines.
type Builder struct {
	pageSizeBytes      uint64
	cacheLineSizeBytes uint64

	signatureBits  int
	signatureShift uint
	historyDepth   int
	actionSet      []int64

	learningRate     float64
	discount         float64
	explorationRate  float64
	explorationDecay float64

	earlyWindow  uint64
	rewardWindow uint64
	rewardHit    float64
	rewardLate   float64
	rewardMiss   float64

	contextTableCapacity int
	qTableCapacity       int
	maxPendingPerContext int

	seed int64
}

// MakeBuilder creates a builder with default parameter setting.
func MakeBuilder() Builder {
	return Builder{
		pageSizeBytes:        4096,
		cacheLineSizeBytes:   64,
		signatureBits:        12,
		signatureShift:       3,
		historyDepth:         4,
		actionSet:            []int64{0, 1, -1, 2, -2, 4, -4, 8, -8},
		learningRate:         0.5,
		discount:             0.9,
		explorationRate:      0.05,
		explorationDecay:     1.0,
		earlyWindow:          8,
		rewardWindow:         64,
		rewardHit:            16,
		rewardLate:           8,
		rewardMiss:           -1,
		contextTableCapacity: 4096,
		qTableCapacity:       1 << 12,
		maxPendingPerContext: 1,
		seed:                 1,
	}
}

// WithPageSize sets the page size in bytes. Pages are the contexts under
// which delta histories are tracked.
func (b Builder) WithPageSize(bytes uint64) Builder {
	b.pageSizeBytes = bytes
	return b
}

// WithCacheLineSize sets the cache line size in bytes.
func (b Builder) WithCacheLineSize(bytes uint64) Builder {
	b.cacheLineSizeBytes = bytes
	return b
}

// WithSignatureBits sets the width of the history signatures.
func (b Builder) WithSignatureBits(n int) Builder {
	b.signatureBits = n
	return b
}

// WithSignatureShift sets the number of bits each delta is shifted in by.
func (b Builder) WithSignatureShift(n uint) Builder {
	b.signatureShift = n
	return b
}

// WithHistoryDepth sets the number of deltas retained per context.
func (b Builder) WithHistoryDepth(n int) Builder {
	b.historyDepth = n
	return b
}

// WithActionSet sets the candidate block deltas. Delta 0 is the
// no-prefetch action and must be present.
func (b Builder) WithActionSet(deltas []int64) Builder {
	b.actionSet = deltas
	return b
}

// WithLearningRate sets alpha in the Q-learning update.
func (b Builder) WithLearningRate(alpha float64) Builder {
	b.learningRate = alpha
	return b
}

// WithDiscount sets gamma in the Q-learning update.
func (b Builder) WithDiscount(gamma float64) Builder {
	b.discount = gamma
	return b
}

// WithExplorationRate sets the epsilon-greedy exploration probability.
func (b Builder) WithExplorationRate(epsilon float64) Builder {
	b.explorationRate = epsilon
	return b
}

// WithExplorationDecay sets the per-selection epsilon multiplier. Use 1
// for a constant exploration rate.
func (b Builder) WithExplorationDecay(decay float64) Builder {
	b.explorationDecay = decay
	return b
}

// WithEarlyWindow sets the number of steps within which a matched
// prediction earns the full hit reward.
func (b Builder) WithEarlyWindow(steps uint64) Builder {
	b.earlyWindow = steps
	return b
}

// WithRewardWindow sets the number of steps a pending prefetch may stay
// outstanding before it expires.
func (b Builder) WithRewardWindow(steps uint64) Builder {
	b.rewardWindow = steps
	return b
}

// WithRewards sets the rewards for timely hits, late hits, and expired
// predictions.
func (b Builder) WithRewards(hit, late, miss float64) Builder {
	b.rewardHit = hit
	b.rewardLate = late
	b.rewardMiss = miss
	return b
}

// WithContextTableCapacity bounds the number of tracked contexts.
func (b Builder) WithContextTableCapacity(n int) Builder {
	b.contextTableCapacity = n
	return b
}

// WithQTableCapacity bounds the number of Q-table rows. Zero leaves the
// table unbounded.
func (b Builder) WithQTableCapacity(n int) Builder {
	b.qTableCapacity = n
	return b
}

// WithMaxPendingPerContext bounds the outstanding predictions per
// context.
func (b Builder) WithMaxPendingPerContext(n int) Builder {
	b.maxPendingPerContext = n
	return b
}

// WithSeed sets the seed of the exploration random source.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// Build builds an engine. It panics when the parameters are invalid.
func (b Builder) Build() *Engine {
	b.parametersMustBeValid()

	blocksPerPage := b.pageSizeBytes / b.cacheLineSizeBytes
	maxDelta := int64(blocksPerPage) - 1

	actions := make([]int64, len(b.actionSet))
	copy(actions, b.actionSet)

	table := qtable.NewTable(len(actions), b.qTableCapacity)

	return &Engine{
		log2BlockSize: uint(bits.TrailingZeros64(b.cacheLineSizeBytes)),
		log2PageSize:  uint(bits.TrailingZeros64(b.pageSizeBytes)),
		actions:       actions,
		codec: signature.NewCodec(
			b.signatureBits, b.signatureShift, maxDelta),
		contexts: history.NewTable(b.historyDepth, b.contextTableCapacity),
		table:    table,
		learner:  qtable.NewLearner(table, b.learningRate, b.discount),
		selector: policy.NewSelector(
			len(actions), b.explorationRate, b.explorationDecay, b.seed),
		ledger: ledger.New(
			b.maxPendingPerContext,
			b.earlyWindow, b.rewardWindow,
			b.rewardHit, b.rewardLate, b.rewardMiss),
	}
}

func (b Builder) parametersMustBeValid() {
	if b.pageSizeBytes == 0 || bits.OnesCount64(b.pageSizeBytes) != 1 {
		panic(fmt.Sprintf(
			"page size must be a power of 2, given %d", b.pageSizeBytes))
	}

	if b.cacheLineSizeBytes == 0 ||
		bits.OnesCount64(b.cacheLineSizeBytes) != 1 {
		panic(fmt.Sprintf("cache line size must be a power of 2, given %d",
			b.cacheLineSizeBytes))
	}

	if b.cacheLineSizeBytes >= b.pageSizeBytes {
		panic(fmt.Sprintf(
			"cache line size %d must be smaller than page size %d",
			b.cacheLineSizeBytes, b.pageSizeBytes))
	}

	b.actionSetMustBeValid()
}

func (b Builder) actionSetMustBeValid() {
	if len(b.actionSet) == 0 {
		panic("action set must not be empty")
	}

	maxDelta := int64(b.pageSizeBytes/b.cacheLineSizeBytes) - 1

	hasNoPrefetch := false
	for _, delta := range b.actionSet {
		if delta == 0 {
			hasNoPrefetch = true
		}

		if delta > maxDelta || delta < -maxDelta {
			panic(fmt.Sprintf(
				"action delta %d exceeds the page span [%d, %d]",
				delta, -maxDelta, maxDelta))
		}
	}

	if !hasNoPrefetch {
		panic("action set must contain the no-prefetch action (delta 0)")
	}
}
