package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/coinfall/internal/dependencies/random"
)

// MockRandom is a mock implementation of Random for testing
type MockRandom struct {
	mu sync.Mutex

	// IntnResults is a queue of results to return from Intn
	IntnResults []int
	intnIndex   int

	// RoundIDResults is a queue of results to return from RoundID
	RoundIDResults []string
	roundIndex     int

	itemCounter int
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a new MockRandom
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// Intn returns the next queued result, or 0 if none remaining
func (r *MockRandom) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.intnIndex >= len(r.IntnResults) {
		return 0
	}
	result := r.IntnResults[r.intnIndex]
	r.intnIndex++
	return result
}

// RoundID returns the next queued result, or "ROUND" followed by a counter
func (r *MockRandom) RoundID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roundIndex >= len(r.RoundIDResults) {
		r.roundIndex++
		return fmt.Sprintf("ROUND%d", r.roundIndex)
	}
	result := r.RoundIDResults[r.roundIndex]
	r.roundIndex++
	return result
}

// ItemID returns deterministic ids: item-1, item-2, ...
func (r *MockRandom) ItemID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemCounter++
	return fmt.Sprintf("item-%d", r.itemCounter)
}

// QueueIntn adds values to the Intn result queue
func (r *MockRandom) QueueIntn(values ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IntnResults = append(r.IntnResults, values...)
}

// QueueRoundID adds values to the RoundID result queue
func (r *MockRandom) QueueRoundID(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RoundIDResults = append(r.RoundIDResults, values...)
}
