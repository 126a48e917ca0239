package server

import (
	"context"

	"github.com/ValentinKolb/dChat/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for turning requests into calls on the chat node
type IRPCServerAdapter interface {
	// Handle handles a unary request and returns a response
	// Operation failures are reported with Ok=false, Code and Text,
	// protocol failures with an error response
	Handle(req *common.Message) (resp *common.Message)

	// Stream handles a request that opens a server stream
	// Every call of send pushes one message to the client
	Stream(ctx context.Context, req *common.Message, send func(*common.Message) error) error
}
