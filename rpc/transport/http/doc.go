// Package http implements the RPC transport over plain HTTP/1.1.
//
// Unary calls are sent as POST /rpc with the serialized request as body, the
// response body is the serialized response. Streams use POST /stream, the server
// keeps the response open and flushes one chunk per frame:
//
//	1 byte kind (1 = data, 2 = end) | 4 byte length | payload
//
// The payload of the end chunk is the error text of the stream handler (empty on
// success). A client ends a stream early by closing the response body, which
// cancels the request context on the server.
//
// Endpoints of the client may be given with or without scheme (localhost:8080 or
// http://localhost:8080). Requests are distributed round-robin across endpoints.
// Requests are logged by a middleware when the server runs with log level debug.
package http
