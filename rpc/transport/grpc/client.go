package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// NewGRPCClientTransport creates a client transport for the raw bytes gRPC service
func NewGRPCClientTransport() transport.IRPCClientTransport {
	return &grpcClientTransport{}
}

type grpcClientTransport struct {
	conns      []*grpc.ClientConn
	counter    uint32
	retryCount int
	timeout    time.Duration
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *grpcClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	_ = t.Close()

	for _, endpoint := range config.Transport.Endpoints {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(
				grpc.ForceCodec(rawCodec{}),
				grpc.MaxCallRecvMsgSize(maxMessageSize),
				grpc.MaxCallSendMsgSize(maxMessageSize),
			),
		)
		if err != nil {
			_ = t.Close()
			return fmt.Errorf("failed to create client for %s: %v", endpoint, err)
		}
		t.conns = append(t.conns, conn)
	}

	t.retryCount = max(config.Transport.RetryCount, 1)
	t.timeout = time.Duration(config.TimeoutSecond) * time.Second
	return nil
}

func (t *grpcClientTransport) Send(req []byte) (resp []byte, err error) {
	if len(t.conns) == 0 {
		return nil, fmt.Errorf("grpc transport not initialized")
	}

	for i := 0; i < t.retryCount; i++ {
		resp, err = t.call(req)
		if err == nil {
			return resp, nil
		}
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, t.retryCount, err)
	}
	return nil, err
}

func (t *grpcClientTransport) Stream(ctx context.Context, req []byte, recv func(frame []byte) error) error {
	if len(t.conns) == 0 {
		return fmt.Errorf("grpc transport not initialized")
	}

	// Leaving this function cancels the stream on the server
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := t.next().NewStream(ctx, &serviceDesc.Streams[0], streamMethod)
	if err != nil {
		return unwrap(ctx, err)
	}
	if err := stream.SendMsg(req); err != nil {
		return unwrap(ctx, err)
	}
	if err := stream.CloseSend(); err != nil {
		return unwrap(ctx, err)
	}

	for {
		var frame []byte
		if err := stream.RecvMsg(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return unwrap(ctx, err)
		}
		if err := recv(frame); err != nil {
			return err
		}
	}
}

func (t *grpcClientTransport) Close() error {
	var firstErr error
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.conns = nil
	return firstErr
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *grpcClientTransport) next() *grpc.ClientConn {
	idx := atomic.AddUint32(&t.counter, 1) % uint32(len(t.conns))
	return t.conns[idx]
}

func (t *grpcClientTransport) call(req []byte) ([]byte, error) {
	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var resp []byte
	if err := t.next().Invoke(ctx, callMethod, req, &resp); err != nil {
		return nil, unwrap(ctx, err)
	}
	return resp, nil
}

// unwrap turns a gRPC status into a plain error carrying the server's message
func unwrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s, ok := status.FromError(err); ok {
		return errors.New(s.Message())
	}
	return err
}
