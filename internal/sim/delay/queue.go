// Package delay holds the per-agent queue of callbacks deferred by a whole
// number of world ticks.
package delay

import "fmt"

// Func is a deferred callback. A returned error aborts the rest of the tick
// it fired in.
type Func func() error

// Queue buckets callbacks by the number of ticks until they are due. Slot 0
// fires on the next AdvanceOneTick. The zero value is ready to use.
//
// Queue is not safe for concurrent use; it is driven from the owning game's
// tick loop only.
type Queue struct {
	slots [][]Func
}

// Schedule runs fn after delay ticks. A zero delay runs fn synchronously and
// returns its error.
func (q *Queue) Schedule(delay int, fn Func) error {
	if delay < 0 {
		return fmt.Errorf("delay: negative delay %d", delay)
	}
	if delay == 0 {
		return fn()
	}
	for len(q.slots) < delay {
		q.slots = append(q.slots, nil)
	}
	q.slots[delay-1] = append(q.slots[delay-1], fn)
	return nil
}

// AdvanceOneTick pops the front slot and runs its callbacks in the order
// they were scheduled. Callbacks may schedule new work; it lands in the
// already shifted queue.
func (q *Queue) AdvanceOneTick() error {
	if len(q.slots) == 0 {
		return nil
	}
	due := q.slots[0]
	q.slots[0] = nil
	q.slots = q.slots[1:]
	if len(q.slots) == 0 {
		q.slots = nil
	}
	for _, fn := range due {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// FrontEmpty reports whether nothing is due on the next tick.
func (q *Queue) FrontEmpty() bool {
	return len(q.slots) == 0 || len(q.slots[0]) == 0
}

// DropFront removes the front slot if it holds no callbacks, pulling every
// later callback one tick closer. It reports whether a slot was removed.
func (q *Queue) DropFront() bool {
	if len(q.slots) == 0 || len(q.slots[0]) > 0 {
		return false
	}
	q.slots = q.slots[1:]
	return true
}

// Len is the number of tick slots currently allocated.
func (q *Queue) Len() int { return len(q.slots) }

// Pending is the number of callbacks waiting across all slots.
func (q *Queue) Pending() int {
	n := 0
	for _, s := range q.slots {
		n += len(s)
	}
	return n
}

// Clear abandons every pending callback.
func (q *Queue) Clear() { q.slots = nil }
