package prefetch

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/qfetch/trace"
)

// feedBlock sends one access of the given cache block to the engine using
// the default 64-byte line size.
func feedBlock(e *Engine, id, block uint64) []Prefetch {
	ps, err := e.Observe(trace.AccessEvent{
		ID:   id,
		Addr: block << 6,
		IP:   0x400,
	})
	Expect(err).NotTo(HaveOccurred())

	return ps
}

var _ = Describe("Engine", func() {
	It("should not prefetch on the first access of a context", func() {
		e := MakeBuilder().Build()

		Expect(feedBlock(e, 1, 100)).To(BeEmpty())

		// Another page is another context, so it is cold too.
		Expect(feedBlock(e, 2, 100+64)).To(BeEmpty())

		Expect(e.Stats().ColdAccesses).To(Equal(uint64(2)))
	})

	It("should skip out-of-order events without touching state", func() {
		e := MakeBuilder().Build()

		feedBlock(e, 5, 100)

		_, err := e.Observe(trace.AccessEvent{ID: 5, Addr: 101 << 6})
		Expect(err).To(HaveOccurred())

		_, err = e.Observe(trace.AccessEvent{ID: 4, Addr: 101 << 6})
		Expect(err).To(HaveOccurred())

		stats := e.Stats()
		Expect(stats.Events).To(Equal(uint64(1)))
		Expect(stats.SkippedEvents).To(Equal(uint64(2)))
		Expect(stats.Contexts).To(Equal(1))

		Expect(feedBlock(e, 6, 101)).To(BeEmpty())
		Expect(e.Stats().Events).To(Equal(uint64(2)))
	})

	It("should never exceed one outstanding prediction per context "+
		"by default", func() {
		e := MakeBuilder().
			WithExplorationRate(1).
			WithSeed(3).
			Build()

		for i := uint64(0); i < 60; i++ {
			feedBlock(e, i+1, i)
			Expect(e.Stats().Outstanding).To(BeNumerically("<=", 1))
		}
	})

	It("should prefetch the learned next delta under pure exploitation",
		func() {
			// history_depth=2, actions {no-op, +1, +2, -1}, alpha=0.5,
			// gamma=0.9, epsilon=0.
			e := MakeBuilder().
				WithHistoryDepth(2).
				WithActionSet([]int64{0, 1, 2, -1}).
				WithLearningRate(0.5).
				WithDiscount(0.9).
				WithExplorationRate(0).
				Build()

			// Train the two signatures a +1 stream visits, twice each
			// with a positive reward, as if earlier prefetches had hit.
			sig1 := e.codec.Encode([]int64{1})
			sig2 := e.codec.Encode([]int64{1, 1})
			for i := 0; i < 2; i++ {
				e.learner.Learn(sig1, 1, 16, e.codec.Next(sig1, 1))
				e.learner.Learn(sig2, 1, 16, e.codec.Next(sig2, 1))
			}

			feedBlock(e, 1, 10)
			feedBlock(e, 2, 11)
			feedBlock(e, 3, 12)

			ps := feedBlock(e, 4, 13)
			Expect(ps).To(HaveLen(1))
			Expect(ps[0].Delta).To(Equal(int64(1)))
			Expect(ps[0].Block).To(Equal(uint64(14)))
			Expect(ps[0].Addr).To(Equal(uint64(14 << 6)))
			Expect(ps[0].Value).To(BeNumerically(">", 0))
		})

	It("should converge on a constant-stride stream and stay stable",
		func() {
			e := MakeBuilder().
				WithHistoryDepth(2).
				WithActionSet([]int64{0, 1, 2, -1}).
				WithExplorationRate(0).
				Build()

			// Nudge the +1 action so that pure exploitation can discover
			// the pattern at all.
			sig1 := e.codec.Encode([]int64{1})
			sig2 := e.codec.Encode([]int64{1, 1})
			e.table.Row(sig1)[1] = 0.1
			e.table.Row(sig2)[1] = 0.1

			var lastDeltas []int64
			for i := uint64(0); i < 50; i++ {
				ps := feedBlock(e, i+1, i)
				if i >= 40 {
					Expect(ps).To(HaveLen(1))
					lastDeltas = append(lastDeltas, ps[0].Delta)
				}
			}

			for _, d := range lastDeltas {
				Expect(d).To(Equal(int64(1)))
			}

			stats := e.Stats()
			Expect(stats.Hits).To(BeNumerically(">", 40))
			Expect(e.table.Row(sig2)[1]).To(BeNumerically(">", 10))
		})

	It("should fall back to no-prefetch when predictions keep missing",
		func() {
			e := MakeBuilder().
				WithHistoryDepth(2).
				WithActionSet([]int64{0, 1, 2, -1}).
				WithExplorationRate(0).
				WithEarlyWindow(2).
				WithRewardWindow(4).
				WithMaxPendingPerContext(8).
				Build()

			// Pretend the -1 action looked great. On a +1 stream its
			// predictions point at blocks that are never touched again.
			sig2 := e.codec.Encode([]int64{1, 1})
			e.table.Row(sig2)[3] = 5

			var lateIssues int
			for i := uint64(0); i < 40; i++ {
				ps := feedBlock(e, i+1, i)
				if i >= 15 && len(ps) > 0 {
					lateIssues++
				}
			}

			Expect(lateIssues).To(BeZero())
			Expect(e.Stats().Expired).To(BeNumerically(">=", 3))
			Expect(e.table.Row(sig2)[3]).To(BeNumerically("<", 0))
		})

	It("should emit identical predictions for identical seeds", func() {
		build := func() *Engine {
			return MakeBuilder().
				WithExplorationRate(0.3).
				WithSeed(7).
				Build()
		}

		e1 := build()
		e2 := build()

		blocks := rand.New(rand.NewSource(99))
		for i := uint64(0); i < 500; i++ {
			ev := trace.AccessEvent{
				ID:   i + 1,
				Addr: uint64(blocks.Intn(1 << 20)),
				IP:   0x400,
			}

			ps1, err1 := e1.Observe(ev)
			ps2, err2 := e2.Observe(ev)

			Expect(err1).NotTo(HaveOccurred())
			Expect(err2).NotTo(HaveOccurred())
			Expect(ps1).To(Equal(ps2))
		}
	})

	It("should forfeit pending predictions of an evicted context", func() {
		e := MakeBuilder().
			WithHistoryDepth(2).
			WithActionSet([]int64{0, 1}).
			WithExplorationRate(0).
			WithContextTableCapacity(2).
			WithRewardWindow(1000).
			WithEarlyWindow(8).
			Build()

		sig1 := e.codec.Encode([]int64{1})
		e.table.Row(sig1)[1] = 1

		// Warm up context of page 0 and leave a prediction outstanding.
		feedBlock(e, 1, 0)
		Expect(feedBlock(e, 2, 1)).To(HaveLen(1))
		Expect(e.Stats().Outstanding).To(Equal(1))

		// Two new pages push page 0 out of the context table.
		feedBlock(e, 3, 64)
		feedBlock(e, 4, 128)

		stats := e.Stats()
		Expect(stats.Forfeited).To(Equal(uint64(1)))
		Expect(stats.Outstanding).To(Equal(0))
	})
})
