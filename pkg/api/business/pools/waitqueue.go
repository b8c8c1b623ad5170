package pools

import "time"

type acquireReply struct {
	lease *Lease
	err   error
}

// waiter is one pending acquisition. It is answered exactly once: with a
// lease, or with an error on expiry, cancellation, creation failure, or pool
// close. The reply channel is buffered so the manager never blocks on it.
type waiter struct {
	id         string
	enqueuedAt time.Time
	deadline   time.Time
	reply      chan acquireReply

	// creating holds the id of the starting instance whose creation this
	// waiter triggered, so a creation failure is routed back to it.
	creating string
}

// WaitQueue is a FIFO of pending acquisitions with per-entry deadlines.
// Satisfaction is strictly first-in, first-out; expiry may remove entries
// from any position, since callers can carry deadlines shorter than the
// configured acquire deadline.
type WaitQueue struct {
	entries []*waiter
}

// Enqueue adds a waiter to the back of the queue.
func (wq *WaitQueue) Enqueue(w *waiter) {
	wq.entries = append(wq.entries, w)
}

// Len returns the number of waiters in the queue.
func (wq *WaitQueue) Len() int {
	return len(wq.entries)
}

// Peek returns the waiter at the front of the queue without removing it.
// Returns nil if the queue is empty.
func (wq *WaitQueue) Peek() *waiter {
	if len(wq.entries) == 0 {
		return nil
	}

	return wq.entries[0]
}

// Dequeue removes and returns the front waiter, or nil if the queue is empty.
func (wq *WaitQueue) Dequeue() *waiter {
	if len(wq.entries) == 0 {
		return nil
	}

	head := wq.entries[0]
	wq.entries = wq.entries[1:]

	return head
}

// Remove deletes the waiter with the given id, reporting whether it was
// still queued.
func (wq *WaitQueue) Remove(id string) bool {
	for i, w := range wq.entries {
		if w.id == id {
			wq.entries = append(wq.entries[:i], wq.entries[i+1:]...)

			return true
		}
	}

	return false
}

// ExpireBefore removes and returns every waiter whose deadline is at or
// before now, regardless of queue position.
func (wq *WaitQueue) ExpireBefore(now time.Time) []*waiter {
	var expired []*waiter

	kept := wq.entries[:0]

	for _, w := range wq.entries {
		if !w.deadline.After(now) {
			expired = append(expired, w)

			continue
		}

		kept = append(kept, w)
	}

	wq.entries = kept

	return expired
}

// NextDeadline returns the earliest deadline among queued waiters.
func (wq *WaitQueue) NextDeadline() (time.Time, bool) {
	if len(wq.entries) == 0 {
		return time.Time{}, false
	}

	earliest := wq.entries[0].deadline
	for _, w := range wq.entries[1:] {
		if w.deadline.Before(earliest) {
			earliest = w.deadline
		}
	}

	return earliest, true
}

// Items returns the queue contents for iteration. The returned slice is the
// queue's internal storage; callers must not append to or reorder it.
func (wq *WaitQueue) Items() []*waiter {
	return wq.entries
}

// Drain empties the queue and returns everything that was in it.
func (wq *WaitQueue) Drain() []*waiter {
	drained := wq.entries
	wq.entries = nil

	return drained
}
