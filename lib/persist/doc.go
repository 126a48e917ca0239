/*
Package persist stores and restores the complete chat state of a node.

Every successful mutation overwrites the previous snapshot in full; there is no log. Two
backends implement ISnapshotStore:

  - file: a single msgpack encoded file behind a magic header, replaced atomically via rename
  - sqlite: a SQLite database (pure Go driver) whose tables are rewritten in one transaction

The Manager serializes writers and is what the chat state machine talks to. A missing
snapshot is not an error: Load reports it as absent and the node starts empty.

Usage:

	store, err := persist.Open(persist.BackendFile, "/var/lib/dchat/state.db")
	mgr := persist.NewManager(store)
	snap, ok, err := mgr.Load()
*/
package persist
