// Package client implements the RPC clients of a chat node.
//
// Key Components:
//
//   - NewRPCChatClient: a chat.IChatService that forwards every operation to a server,
//     plus Subscribe for the live message stream. Failed operations come back as
//     *chat.Error, so errors.Is(err, chat.ErrRecipientNotFound) works the same for the
//     local state machine and the remote client.
//
//   - NewRPCPeer: the replication.IPeerClient the primary uses to send mutations to a
//     follower. Transport failures are reported as ReplicationTransportError.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	c, _ := client.NewRPCChatClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer c.Close()
//
//	_ = c.CreateAccount("alice", "secret")
//	id, err := c.SendMessage("alice", "bob", "hi")
//	if errors.Is(err, chat.ErrRecipientNotFound) {
//	  // ...
//	}
//
// Thread Safety:
//
//	All clients are safe for concurrent use, a Subscribe call blocks only its caller.
package client
