// Package counters provides monotonic counter primitives shared by the
// engines.
package counters

import (
	"go.uber.org/atomic"
)

// StrictMonotonicCounter is a helper for maintaining a strictly increasing
// counter under concurrent access, e.g. the highest finalized slot.
type StrictMonotonicCounter struct {
	value *atomic.Uint64
}

// NewMonotonicCounter instantiates the counter at the given initial value.
func NewMonotonicCounter(initial uint64) StrictMonotonicCounter {
	return StrictMonotonicCounter{
		value: atomic.NewUint64(initial),
	}
}

// Set updates the counter to the new value if and only if it is strictly
// greater than the current one. Returns whether the update was applied.
func (c *StrictMonotonicCounter) Set(newValue uint64) bool {
	for {
		oldValue := c.value.Load()
		if newValue <= oldValue {
			return false
		}
		if c.value.CompareAndSwap(oldValue, newValue) {
			return true
		}
	}
}

// Value returns the current value of the counter.
func (c *StrictMonotonicCounter) Value() uint64 {
	return c.value.Load()
}
