package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks how far a trace replay has gone.
type ProgressBar struct {
	sync.Mutex
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
}

// IncrementFinished adds a certain amount to the finished count.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.Lock()
	defer b.Unlock()

	b.Finished += amount
}

// Ratio returns the finished fraction, or 0 when the total is unknown.
func (b *ProgressBar) Ratio() float64 {
	b.Lock()
	defer b.Unlock()

	if b.Total == 0 {
		return 0
	}

	return float64(b.Finished) / float64(b.Total)
}
