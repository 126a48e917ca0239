// Package rpc is the communication layer of dChat. Clients and peer nodes talk to a
// node through it, both for unary requests and for the live message stream.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, configuration structures, conversions and logging.
//
//   - transport: Pluggable byte transports (TCP, Unix sockets, HTTP, gRPC) offering
//     request/response and server streams.
//
//   - serializer: Message serialization (Binary, Msgpack, JSON, GOB).
//
//   - client: The chat client (chat.IChatService plus Subscribe) and the peer client
//     the primary uses to replicate mutations.
//
//   - server: The node itself. It wires the state machine, replication, delivery and
//     persistence to a transport.
package rpc
