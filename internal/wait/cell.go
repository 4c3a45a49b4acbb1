package wait

import "sync"

// WaitCell is a single-slot rendezvous: Take blocks until a concurrent
// Replace deposits a value (spec.md §4.7).
type WaitCell[T any] struct {
	mu  sync.Mutex
	val *T
	wo  *WaitObject
}

// NewCell creates an empty WaitCell.
func NewCell[T any]() *WaitCell[T] {
	return &WaitCell[T]{wo: New()}
}

// Take blocks until a value is available, then returns it, leaving the
// cell empty.
func (c *WaitCell[T]) Take() T {
	for {
		c.mu.Lock()
		if c.val != nil {
			v := *c.val
			c.val = nil
			c.mu.Unlock()
			return v
		}
		// Wait unlocks c.mu on our behalf once this waiter is registered.
		c.wo.Wait(&c.mu, 0)
	}
}

// TryTake returns the cell's value without blocking, or false if empty.
func (c *WaitCell[T]) TryTake() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.val == nil {
		var zero T
		return zero, false
	}
	v := *c.val
	c.val = nil
	return v, true
}

// Replace deposits obj into the cell, waking every waiting Take (the first
// to relock the cell takes the value; the others wait again), and returns
// whatever value the cell previously held (if any).
func (c *WaitCell[T]) Replace(obj T) (T, bool) {
	c.mu.Lock()
	var old T
	var hadOld bool
	if c.val != nil {
		old = *c.val
		hadOld = true
	}
	c.val = &obj
	c.mu.Unlock()
	c.wo.Notify(0)
	return old, hadOld
}
