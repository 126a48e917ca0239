/*
Package queue provides the unbounded lock-free Multi-Producer Single-Consumer (MPSC) queue that
dChat uses wherever a producer must never block on a slow consumer:

  - pushing chat messages to a subscribed recipient while the state machine lock is held
  - handing replicated mutations to the per-follower replication workers

Items pushed by a single goroutine (or by goroutines serialized by an outer lock) are received in
push order. The queue is drained through the channel returned by Recv(). Close() stops new pushes
but lets the consumer drain what is queued; Abort() additionally discards whatever is still queued
and releases the internal consumer goroutine even when nobody reads from Recv() anymore.
*/
package queue
