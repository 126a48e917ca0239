// Package transport defines the byte level interfaces between the RPC layer and the
// network. A server transport hands raw request bytes to a registered handler and
// writes back the returned bytes, a client transport does the opposite. Serialization
// is not part of this layer (see package serializer).
//
// Two call shapes are supported:
//
//   - Unary: Send on the client, ServerHandleFunc on the server. Used by every chat
//     operation and by replication between nodes.
//
//   - Server stream: Stream on the client, ServerStreamFunc on the server. Used for
//     message subscriptions, the server pushes one frame per delivered message.
//
// Implementations live in the sub packages:
//
//   - tcp, unix: framed protocol over stream sockets built on package base
//   - http: POST /rpc for unary calls, chunked POST /stream for streams
//   - grpc: a raw bytes gRPC service with a unary and a server streaming method
package transport
