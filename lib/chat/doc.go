/*
Package chat contains the replicated chat state of a dChat node: accounts with their offline
mailboxes, the conversation log between every pair of users and the global message id allocator.

The StateMachine is the single owner of this state. Every client operation runs as one atomic
step under the machine's lock. A successful mutation is persisted, forwarded to the replication
layer and (for new messages) pushed to the online recipient while the lock is still held, so all
three side effects observe the same order as the mutations themselves.

Collaborators are injected through Options:

  - Hasher: turns passwords into digests and verifies them (see lib/auth)
  - Persister: stores a full Snapshot after each mutation (see lib/persist)
  - Forwarder: hands Mutation records to the replication layer (see lib/replication)
  - Deliverer: pushes messages to online recipients (see lib/delivery)

Followers do not validate replicated mutations; ApplyReplicated trusts the primary and turns
mutations whose targets are missing into no-ops.

Usage:

	sm := chat.NewStateMachine(chat.Options{Hasher: auth.NewBcryptHasher(0)})
	_ = sm.CreateAccount("alice", "pw")
	_ = sm.CreateAccount("bob", "pw")
	id, _ := sm.SendMessage("alice", "bob", "hi")
	msgs, _ := sm.ReadMessages("bob", 0)
*/
package chat
