// Package grpc carries the RPC envelope over gRPC without protobuf messages.
//
// The service dchat.rpc.Transport is declared by hand and uses a codec that passes
// byte slices through unchanged, so any serializer of package serializer can be used
// on top of it. It has two methods:
//
//   - Call: unary, request bytes in, response bytes out
//   - Stream: server streaming, one request, one message per frame
//
// A stream handler error is returned to the client as status Aborted with the error
// text as message. Cancelling the client context cancels the handler context.
// Connections are plaintext (insecure credentials).
package grpc
