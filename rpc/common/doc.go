// Package common provides core data structures and utilities shared by the RPC server,
// client and transports of dChat.
//
// Key Components:
//
//   - Message: the single envelope used for all requests, responses and stream items,
//     with factory functions for every chat operation. Operation failures are carried as
//     Ok=false plus an error code and a human readable text; Err is reserved for protocol
//     failures.
//
//   - MessageType: enumeration of all operations (chat operations, the subscription
//     stream and inter-node replication).
//
//   - ServerConfig: configuration of a chat node (identity, static cluster membership,
//     persistence, transport and logging).
//
//   - ClientConfig: configuration of clients, controlling endpoints, timeouts and retries.
//
//   - Logger: zerolog backed implementation of dragonboat's logger.ILogger, so every
//     package keeps using logger.GetLogger(name).
package common
