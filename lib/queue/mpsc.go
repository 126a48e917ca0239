package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list of nodes with atomic operations
// for concurrent push operations. Producers only synchronize with Close and Abort.
type LockFreeMPSC[T interface{}] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	// closeMu orders Close and Abort after every Push that saw the queue open, producers
	// only share its read side
	closeMu sync.RWMutex

	// aborted is closed by Abort, the consumer stops handing out items once it is closed
	aborted   chan struct{}
	abortOnce sync.Once

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new lock-free multi-producer single-consumer queue
func NewLockFreeMPSC[T interface{}]() *LockFreeMPSC[T] {
	// sentinel node, head always points to the last consumed node
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out:     make(chan *T),
		aborted: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
// An item that was added is handed to the consumer unless the queue is aborted.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil {
		return false
	}

	q.closeMu.RLock()
	if q.closed.Load() {
		q.closeMu.RUnlock()
		return false
	}
	q.link(&node[T]{value: value})
	q.closeMu.RUnlock()

	q.signal()
	return true
}

// link appends newNode to the list
func (q *LockFreeMPSC[T]) link(newNode *node[T]) {
	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS may fail if another producer already moved the tail forward
				q.tail.CompareAndSwap(tailNode, newNode)
				return
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin first, yield once contention stays high
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes the consumer. Taking the lock avoids a lost wakeup between the
// consumer's emptiness check and its Wait.
func (q *LockFreeMPSC[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume continuously sends items from the linked list to the output channel and frees memory
func (q *LockFreeMPSC[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)

			select {
			case q.out <- value:
			case <-q.aborted:
				return
			}

			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			// every accepted push is linked once closed is visible
			if q.head.Load().next.Load() == nil {
				return
			}
			continue
		}

		if !hasItems {
			q.mu.Lock()
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns a receive-only channel for consuming from the queue.
// The channel is closed once the queue is closed and drained, or aborted.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close closes the queue, preventing further writes.
// Any items already in the queue will still be delivered to the consumer.
func (q *LockFreeMPSC[T]) Close() {
	q.closeMu.Lock()
	q.closed.Store(true)
	q.closeMu.Unlock()
	q.signal()
}

// Abort closes the queue and drops all items that were not yet received.
// It is safe to call Abort after Close and to call it more than once.
func (q *LockFreeMPSC[T]) Abort() {
	q.closeMu.Lock()
	q.closed.Store(true)
	q.closeMu.Unlock()
	q.abortOnce.Do(func() { close(q.aborted) })
	q.signal()
}

// Wait blocks until the consumer goroutine has exited.
func (q *LockFreeMPSC[T]) Wait() {
	q.consumer.Wait()
}

// IsClosed returns true if the queue is closed.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of the number of items in the queue.
// This is O(n) and should only be used for debugging.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			break
		}
		count++
		current = next
	}
	return count
}
