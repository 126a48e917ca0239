package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var Logger = logger.GetLogger("transport/rpc")

// NewGRPCServerTransport creates a server transport that serves the raw bytes gRPC service
func NewGRPCServerTransport() transport.IRPCServerTransport {
	return &grpcServerTransport{}
}

type grpcServerTransport struct {
	handler       transport.ServerHandleFunc
	streamHandler transport.ServerStreamFunc

	mu     sync.Mutex
	server *grpc.Server
	closed bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *grpcServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *grpcServerTransport) RegisterStreamHandler(handler transport.ServerStreamFunc) {
	t.streamHandler = handler
}

func (t *grpcServerTransport) Listen(config common.ServerConfig) error {
	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}

	server := grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	server.RegisterService(&serviceDesc, t)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return listener.Close()
	}
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting gRPC server on %s", config.Transport.Endpoint)

	if err := server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (t *grpcServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	if t.server != nil {
		t.server.Stop()
	}
	return nil
}

// --------------------------------------------------------------------------
// Service Methods (docu see transportService)
// --------------------------------------------------------------------------

func (t *grpcServerTransport) Call(_ context.Context, req []byte) ([]byte, error) {
	if t.handler == nil {
		return nil, status.Error(codes.Unavailable, "no handler registered")
	}
	return t.handler(req), nil
}

func (t *grpcServerTransport) Stream(req []byte, stream grpc.ServerStream) error {
	if t.streamHandler == nil {
		return status.Error(codes.Unimplemented, "streams are not supported by this server")
	}
	ctx := stream.Context()
	err := t.streamHandler(ctx, req, func(frame []byte) error {
		return stream.SendMsg(frame)
	})
	if err != nil && ctx.Err() == nil {
		return status.Error(codes.Aborted, err.Error())
	}
	return nil
}
