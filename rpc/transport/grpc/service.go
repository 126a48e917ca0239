package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

const (
	serviceName    = "dchat.rpc.Transport"
	callMethod     = "/" + serviceName + "/Call"
	streamMethod   = "/" + serviceName + "/Stream"
	rawCodecName   = "dchat-raw"
	maxMessageSize = 64 << 20
)

// rawCodec passes the already serialized envelope through unchanged
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	default:
		return nil, fmt.Errorf("raw codec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string {
	return rawCodecName
}

// transportService is implemented by the server side of the transport
type transportService interface {
	Call(ctx context.Context, req []byte) ([]byte, error)
	Stream(req []byte, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*transportService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Stream", Handler: streamHandler, ServerStreams: true},
	},
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req []byte
	if err := dec(&req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(transportService).Call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(transportService).Call(ctx, req.([]byte))
	}
	return interceptor(ctx, req, info, handler)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	var req []byte
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	return srv.(transportService).Stream(req, stream)
}
