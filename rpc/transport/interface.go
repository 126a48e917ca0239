package transport

import (
	"context"

	"github.com/ValentinKolb/dChat/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles a single unary request.
// It is called by a server transport when a request is received and returns the response
type ServerHandleFunc func(req []byte) (resp []byte)

// ServerStreamFunc handles a server side stream.
// The transport calls it once per opened stream and cancels ctx when the client goes away.
// Every call of send delivers one frame to the client. The stream ends when the function
// returns, a non nil error is reported to the client
type ServerStreamFunc func(ctx context.Context, req []byte, send func(frame []byte) error) error

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers the handler for unary requests
	RegisterHandler(handler ServerHandleFunc)
	// RegisterStreamHandler registers the handler for server streams
	RegisterStreamHandler(handler ServerStreamFunc)
	// Listen starts the transport layer and blocks until Close is called
	Listen(config common.ServerConfig) error
	// Close stops the listener and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(req []byte) (resp []byte, err error)
	// Stream opens a server stream and calls recv for every received frame.
	// It blocks until the server ends the stream, ctx is cancelled or recv returns an error
	Stream(ctx context.Context, req []byte, recv func(frame []byte) error) error
	// Close closes the transport connection
	Close() error
}
