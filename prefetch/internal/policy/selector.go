// Package policy selects actions from action-value rows.
package policy

import (
	"fmt"
	"math/rand"
)

// A Selector picks an action index from an action-value row using an
// epsilon-greedy policy. It owns its random source so that runs with the
// same seed select identically.
type Selector struct {
	rng        *rand.Rand
	numActions int
	epsilon    float64
	decay      float64
}

// NewSelector creates a selector over numActions actions. With
// probability epsilon a uniformly random action is chosen; otherwise the
// argmax of the row wins, ties broken by the lowest action index. After
// every selection epsilon is multiplied by decay. A decay of 1 keeps the
// exploration rate constant, which works well when access patterns can
// shift at any time and the values must be re-explored.
func NewSelector(numActions int, epsilon, decay float64, seed int64) *Selector {
	if numActions <= 0 {
		panic(fmt.Sprintf(
			"action set must not be empty, given %d actions", numActions))
	}

	if epsilon < 0 || epsilon > 1 {
		panic(fmt.Sprintf(
			"exploration rate must be in [0, 1], given %f", epsilon))
	}

	if decay <= 0 || decay > 1 {
		panic(fmt.Sprintf(
			"exploration decay must be in (0, 1], given %f", decay))
	}

	return &Selector{
		rng:        rand.New(rand.NewSource(seed)),
		numActions: numActions,
		epsilon:    epsilon,
		decay:      decay,
	}
}

// Select returns the index of the chosen action.
func (s *Selector) Select(row []float64) int {
	if len(row) != s.numActions {
		panic(fmt.Sprintf("row has %d values, want %d",
			len(row), s.numActions))
	}

	index := s.argmax(row)
	if s.rng.Float64() < s.epsilon {
		index = s.rng.Intn(s.numActions)
	}

	s.epsilon *= s.decay

	return index
}

// Epsilon returns the current exploration rate.
func (s *Selector) Epsilon() float64 {
	return s.epsilon
}

func (s *Selector) argmax(row []float64) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}

	return best
}
