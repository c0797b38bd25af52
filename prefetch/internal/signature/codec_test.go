package signature

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Codec", func() {
	var c *Codec

	BeforeEach(func() {
		c = NewCodec(12, 3, 63)
	})

	It("should encode an empty history to the cold signature", func() {
		Expect(c.Encode(nil)).To(Equal(ColdSignature))
		Expect(c.Encode([]int64{})).To(Equal(ColdSignature))
	})

	It("should encode equal histories to equal signatures", func() {
		h1 := []int64{1, 1, 2, -1}
		h2 := []int64{1, 1, 2, -1}

		Expect(c.Encode(h1)).To(Equal(c.Encode(h2)))
	})

	It("should encode incrementally the same as from scratch", func() {
		history := []int64{4, -2, 1, 7}

		sig := ColdSignature
		for _, d := range history {
			sig = c.Next(sig, d)
		}

		Expect(sig).To(Equal(c.Encode(history)))
	})

	It("should fold one delta as shift and xor of its sign-magnitude",
		func() {
			// 63 needs 6 magnitude bits, so -5 encodes as 1<<6 | 5.
			Expect(c.Next(ColdSignature, -5)).
				To(Equal(Signature(1<<6 | 5)))
			Expect(c.Next(ColdSignature, 5)).To(Equal(Signature(5)))
		})

	It("should keep the signature within its bit width", func() {
		sig := ColdSignature
		for i := 0; i < 1000; i++ {
			sig = c.Next(sig, int64(i%127-63))
			Expect(uint64(sig)).To(BeNumerically("<", uint64(1)<<12))
		}
	})

	It("should saturate deltas beyond the representable range", func() {
		Expect(c.Next(ColdSignature, 1000)).
			To(Equal(c.Next(ColdSignature, 63)))
		Expect(c.Next(ColdSignature, -1000)).
			To(Equal(c.Next(ColdSignature, -63)))
	})

	It("should distinguish positive and negative deltas", func() {
		Expect(c.Next(ColdSignature, 3)).
			NotTo(Equal(c.Next(ColdSignature, -3)))
	})

	It("should panic on invalid parameters", func() {
		Expect(func() { NewCodec(1, 3, 63) }).To(Panic())
		Expect(func() { NewCodec(12, 0, 63) }).To(Panic())
		Expect(func() { NewCodec(12, 3, 0) }).To(Panic())
	})
})
