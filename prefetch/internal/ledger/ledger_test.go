package ledger_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/qfetch/prefetch/internal/ledger"
)

var _ = Describe("Ledger", func() {
	var l *ledger.Ledger

	BeforeEach(func() {
		l = ledger.New(2, 4, 16, 16, 8, -1)
	})

	It("should resolve a timely match with the hit reward", func() {
		l.Register(ledger.Pending{
			Context:        1,
			Sig:            10,
			Action:         2,
			Next:           11,
			PredictedBlock: 100,
			IssuedAt:       0,
		})

		rs := l.Resolve(1, 100, 3)

		Expect(rs).To(HaveLen(1))
		Expect(rs[0].Outcome).To(Equal(ledger.OutcomeHit))
		Expect(rs[0].Reward).To(Equal(16.0))
		Expect(rs[0].Sig).To(BeEquivalentTo(10))
		Expect(rs[0].Action).To(Equal(2))
		Expect(rs[0].Next).To(BeEquivalentTo(11))
		Expect(l.Outstanding()).To(Equal(0))
	})

	It("should resolve a slow match with the late reward", func() {
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 100, IssuedAt: 0})

		rs := l.Resolve(1, 100, 10)

		Expect(rs).To(HaveLen(1))
		Expect(rs[0].Outcome).To(Equal(ledger.OutcomeLate))
		Expect(rs[0].Reward).To(Equal(8.0))
	})

	It("should expire entries past the reward window", func() {
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 100, IssuedAt: 0})

		rs := l.Resolve(1, 999, 17)

		Expect(rs).To(HaveLen(1))
		Expect(rs[0].Outcome).To(Equal(ledger.OutcomeExpired))
		Expect(rs[0].Reward).To(Equal(-1.0))
		Expect(l.Outstanding()).To(Equal(0))
	})

	It("should keep unmatched entries within the window pending", func() {
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 100, IssuedAt: 0})

		rs := l.Resolve(1, 999, 5)

		Expect(rs).To(BeEmpty())
		Expect(l.OutstandingInContext(1)).To(Equal(1))
	})

	It("should not resolve entries of other contexts", func() {
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 100, IssuedAt: 0})

		rs := l.Resolve(2, 100, 1)

		Expect(rs).To(BeEmpty())
		Expect(l.OutstandingInContext(1)).To(Equal(1))
	})

	It("should bound the entries per context", func() {
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 100, IssuedAt: 0})
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 101, IssuedAt: 1})

		dropped := l.Register(
			ledger.Pending{Context: 1, PredictedBlock: 102, IssuedAt: 2})

		Expect(dropped).To(Equal(1))
		Expect(l.OutstandingInContext(1)).To(Equal(2))

		// The oldest entry was dropped, so block 100 no longer matches.
		Expect(l.Resolve(1, 100, 3)).To(BeEmpty())
	})

	It("should forfeit all entries of an evicted context", func() {
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 100, IssuedAt: 0})
		l.Register(ledger.Pending{Context: 1, PredictedBlock: 101, IssuedAt: 1})
		l.Register(ledger.Pending{Context: 2, PredictedBlock: 200, IssuedAt: 2})

		Expect(l.ForfeitContext(1)).To(Equal(2))
		Expect(l.Outstanding()).To(Equal(1))
		Expect(l.OutstandingInContext(1)).To(Equal(0))
	})

	It("should reject invalid parameters", func() {
		Expect(func() { ledger.New(0, 4, 16, 16, 8, -1) }).To(Panic())
		Expect(func() { ledger.New(2, 17, 16, 16, 8, -1) }).To(Panic())
	})
})
