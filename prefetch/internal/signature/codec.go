// Package signature compresses delta histories into fixed-width table keys.
package signature

import (
	"fmt"
	"math/bits"
)

// A Signature is a fixed-width compressed encoding of a recent delta
// history. It is the key of the learning table.
type Signature uint64

// ColdSignature is the signature of an empty history. A context that has
// not produced a delta yet always maps to this value.
const ColdSignature Signature = 0

// A Codec folds block-address deltas into signatures. The fold is a pure
// function of the history contents and the codec parameters, so the same
// history always yields the same signature, including across process
// restarts.
type Codec struct {
	bits     int
	shift    uint
	maxDelta int64
	magBits  uint
	mask     uint64
}

// NewCodec creates a codec that produces signatures of the given bit width.
// Each delta is shifted in by shift bits. Deltas beyond maxDelta in either
// direction saturate to maxDelta before encoding.
func NewCodec(signatureBits int, shift uint, maxDelta int64) *Codec {
	if signatureBits <= 1 || signatureBits > 62 {
		panic(fmt.Sprintf(
			"signature bits must be in [2, 62], given %d", signatureBits))
	}

	if maxDelta <= 0 {
		panic(fmt.Sprintf("max delta must be positive, given %d", maxDelta))
	}

	if shift == 0 {
		panic("signature shift must be positive")
	}

	return &Codec{
		bits:     signatureBits,
		shift:    shift,
		maxDelta: maxDelta,
		magBits:  uint(bits.Len64(uint64(maxDelta))),
		mask:     (1 << uint(signatureBits)) - 1,
	}
}

// Encode folds a delta history, oldest first, into a signature. An empty
// history encodes to ColdSignature.
func (c *Codec) Encode(history []int64) Signature {
	sig := ColdSignature
	for _, delta := range history {
		sig = c.Next(sig, delta)
	}

	return sig
}

// Next returns the signature that follows sig once delta is observed.
func (c *Codec) Next(sig Signature, delta int64) Signature {
	sym := c.signMagnitude(c.saturate(delta))
	return Signature((uint64(sig)<<c.shift ^ sym) & c.mask)
}

// MaxDelta returns the largest delta magnitude the codec encodes exactly.
func (c *Codec) MaxDelta() int64 {
	return c.maxDelta
}

// Bits returns the signature width in bits.
func (c *Codec) Bits() int {
	return c.bits
}

func (c *Codec) saturate(delta int64) int64 {
	if delta > c.maxDelta {
		return c.maxDelta
	}

	if delta < -c.maxDelta {
		return -c.maxDelta
	}

	return delta
}

// signMagnitude encodes the delta with the sign in the bit right above the
// magnitude bits: 0 for positive, 1 for negative.
func (c *Codec) signMagnitude(delta int64) uint64 {
	if delta < 0 {
		return 1<<c.magBits | uint64(-delta)
	}

	return uint64(delta)
}
