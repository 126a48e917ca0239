// Package base implements the framed protocol shared by the stream socket transports
// (tcp, unix). Protocol specific details like dialing, listening and socket options are
// injected through IClientConnector and IServerConnector.
//
// Wire format, every frame is:
//
//	1 byte kind | 8 byte request id | 4 byte payload length | payload
//
// Unary calls use a request frame answered by a response frame with the same id.
// Streams are opened with a stream-open frame. The server answers with any number of
// stream-data frames followed by one stream-end frame whose payload is the error text
// (empty on success). A client that stops reading sends stream-cancel, after which the
// server cancels the handler context and sends nothing more for that id.
//
// Key Components:
//
//   - clientTransport: manages multiple connections per endpoint with round-robin
//     selection, correlates responses by request id and retries unary calls with
//     exponential backoff. Streams are never retried.
//
//   - serverTransport: accepts connections, runs unary requests on a bounded number of
//     workers per connection and every stream in its own goroutine. All streams of a
//     connection are cancelled when the connection closes.
//
// Performance:
//
//   - The server reuses read buffers through a sync.Pool.
//   - Header and payload are written with net.Buffers, a single write per frame.
//   - A single connection per endpoint is usually enough for small chat messages.
//
// Thread Safety:
//
//	All public methods are safe for concurrent use. Writes to a connection are
//	serialized by a mutex, reads happen in one goroutine per connection.
package base
