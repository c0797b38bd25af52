// Package trace reads memory access traces in the ISCA 2021 ML
// prefetching competition load-trace format.
package trace

// An AccessEvent is one demand access observed by the traced program.
// Events arrive in strictly increasing instruction ID order.
type AccessEvent struct {
	// ID is the unique, strictly increasing instruction ID.
	ID uint64

	// Cycle is the cycle count at which the access retired.
	Cycle uint64

	// Addr is the accessed byte address.
	Addr uint64

	// IP is the instruction pointer of the load.
	IP uint64

	// Hit reports whether the access hit in the last-level cache,
	// as recorded by the trace producer.
	Hit bool
}

// Block returns the cache-block number of the access.
func (e AccessEvent) Block(log2BlockSize uint) uint64 {
	return e.Addr >> log2BlockSize
}

// Page returns the page number of the access.
func (e AccessEvent) Page(log2PageSize uint) uint64 {
	return e.Addr >> log2PageSize
}
