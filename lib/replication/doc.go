/*
Package replication forwards the mutations of the primary node to its followers and applies
mutations received from the primary.

Roles are static: the member with the numerically smallest id is the primary, every node
computes this once at startup from the same peer list and never re-evaluates it. There is
no election and no failover, so the primary is a single point of failure.

The primary keeps one unbounded FIFO queue and one worker goroutine per follower. Forward
only enqueues, so neither the client nor the other followers ever wait for a slow or dead
follower. A worker sends its mutations one by one in queue order; a failed send is logged
and dropped (no retry), the connection is re-established for the next mutation.
*/
package replication
