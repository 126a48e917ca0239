package client

import (
	"fmt"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/serializer"
	"github.com/ValentinKolb/dChat/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc/client")
)

// rpcClientAdapter stores everything an RPC client needs.
// Used by the chat client and the peer client with composition pattern
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// newAdapter connects the transport and returns the adapter
func newAdapter(config common.ClientConfig, t transport.IRPCClientTransport, s serializer.IRPCSerializer) (rpcClientAdapter, error) {
	if err := t.Connect(config); err != nil {
		return rpcClientAdapter{}, err
	}
	return rpcClientAdapter{config: config, transport: t, serializer: s}, nil
}

// invoke sends a request and returns the decoded response.
// Transport and protocol failures are returned as plain errors, a response with Ok=false
// is returned together with the matching *chat.Error
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s request: %w", req.MsgType, err)
	}

	respBytes, err := a.transport.Send(reqBytes)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", req.MsgType, err)
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("failed to deserialize %s response: %w", req.MsgType, err)
	}

	return resp, checkResponse(req.MsgType, resp)
}

// checkResponse validates the type of a response and maps failures to errors
func checkResponse(expected common.MessageType, resp *common.Message) error {
	// Check if the response is a protocol error
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return fmt.Errorf("rpc error: %s", resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != expected {
		return fmt.Errorf("unexpected message type: %s, expected %s", resp.MsgType, expected)
	}

	if !resp.Ok {
		return toChatError(resp)
	}
	return nil
}

// toChatError rebuilds the typed error of a failed response
func toChatError(resp *common.Message) *chat.Error {
	code := chat.Code(resp.Code)
	if code == chat.CodeOK {
		if resp.Text == "" {
			return chat.ErrInternal
		}
		code = chat.CodeInternal
	}
	return chat.NewError(code, resp.Text)
}

// close closes the underlying transport
func (a *rpcClientAdapter) close() error {
	return a.transport.Close()
}
