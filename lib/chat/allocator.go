package chat

import "sync/atomic"

// IDAllocator hands out globally unique, strictly increasing message ids starting at 1.
// Followers never allocate; they only Observe the ids chosen by the primary so that the
// allocator is correct should they ever serve writes after a restart as primary.
//
// Thread-safety: all methods are safe for concurrent use.
type IDAllocator struct {
	next atomic.Uint64
}

// NewIDAllocator creates an allocator whose first id is next (1 if next is 0).
func NewIDAllocator(next uint64) *IDAllocator {
	a := &IDAllocator{}
	a.Reset(next)
	return a
}

// Next returns a fresh id.
func (a *IDAllocator) Next() uint64 {
	return a.next.Add(1) - 1
}

// Peek returns the id that the next call to Next will return.
func (a *IDAllocator) Peek() uint64 {
	return a.next.Load()
}

// Observe makes sure that the allocator never hands out id or anything below it.
func (a *IDAllocator) Observe(id uint64) {
	for {
		cur := a.next.Load()
		if id < cur {
			return
		}
		if a.next.CompareAndSwap(cur, id+1) {
			return
		}
	}
}

// Reset sets the id that Next returns next (1 if next is 0).
func (a *IDAllocator) Reset(next uint64) {
	if next == 0 {
		next = 1
	}
	a.next.Store(next)
}
