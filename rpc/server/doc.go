// Package server runs one chat node behind an RPC transport.
//
// NewRPCServer wires the node together: the chat.StateMachine with its collaborators
// (bcrypt hasher, snapshot persistence, replication coordinator, subscription registry),
// the adapter that maps RPC messages onto the state machine, and optionally a separate
// HTTP listener for Prometheus metrics.
//
// Roles:
//
//   - The node with the smallest id of the configured cluster is the primary. It serves
//     every operation and forwards each mutation to all followers.
//   - Followers answer Login, LogOff and ListAccounts and apply replicated mutations. All
//     other client operations (and subscriptions) are rejected with NotPrimary. There is
//     no failover, the primary is a single point of failure.
//
// Key Components:
//
//   - IRPCServerAdapter: turns a request message into a response message (Handle) or
//     into a stream of messages (Stream).
//
//   - chatServerAdapter: the chat implementation of IRPCServerAdapter. Operation failures
//     travel as Ok=false with the chat error code and the user facing text.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  NodeID:      1,
//	  Peers:       map[uint64]string{1: "localhost:8080", 2: "localhost:8081"},
//	  DataFile:    "node1.snap",
//	  Persistence: "file",
//	  Transport:   common.ServerTransportConfig{Endpoint: "localhost:8080"},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer(), tcp.NewTCPClientTransport)
//	if err := s.Serve(); err != nil {
//	  panic(err)
//	}
package server
