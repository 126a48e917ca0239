package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/serializer"
	"github.com/ValentinKolb/dChat/rpc/transport"
)

// IChatClient is a chat.IChatService behind a transport, extended by live subscriptions
type IChatClient interface {
	chat.IChatService

	// Subscribe opens a live stream for username and calls fn for every pushed message.
	// It blocks until ctx is cancelled, fn returns an error, the server ends the stream
	// (for example because a newer subscription of the same user replaced it) or the
	// connection breaks. A rejected subscription is reported as *chat.Error
	Subscribe(ctx context.Context, username string, fn func(chat.Message) error) error

	// Close closes the underlying transport
	Close() error
}

// NewRPCChatClient creates a new chat client and connects the transport
func NewRPCChatClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (IChatClient, error) {
	adapter, err := newAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcChatClient{adapter}, nil
}

type rpcChatClient struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see chat.IChatService)
// --------------------------------------------------------------------------

func (c *rpcChatClient) CreateAccount(username, password string) error {
	_, err := c.invoke(common.NewCreateAccountRequest(username, password))
	return err
}

func (c *rpcChatClient) Login(username, password string) (int, error) {
	resp, err := c.invoke(common.NewLoginRequest(username, password))
	if err != nil {
		return 0, err
	}
	return int(resp.Count), nil
}

func (c *rpcChatClient) LogOff(username string) error {
	_, err := c.invoke(common.NewLogOffRequest(username))
	return err
}

func (c *rpcChatClient) DeleteAccount(username string) error {
	_, err := c.invoke(common.NewDeleteAccountRequest(username))
	return err
}

func (c *rpcChatClient) SendMessage(sender, recipient, content string) (uint64, error) {
	resp, err := c.invoke(common.NewSendMessageRequest(sender, recipient, content))
	if err != nil {
		return 0, err
	}
	if len(resp.IDs) != 1 {
		return 0, fmt.Errorf("send message response carries %d ids, expected 1", len(resp.IDs))
	}
	return resp.IDs[0], nil
}

func (c *rpcChatClient) ReadMessages(username string, limit int) ([]chat.Message, error) {
	resp, err := c.invoke(common.NewReadMessagesRequest(username, limit))
	if err != nil {
		return nil, err
	}
	return common.ToChatMessages(resp.Messages), nil
}

func (c *rpcChatClient) DeleteMessages(username string, ids []uint64) error {
	_, err := c.invoke(common.NewDeleteMessagesRequest(username, ids))
	return err
}

func (c *rpcChatClient) ViewConversation(username, otherUser string) ([]chat.Message, error) {
	resp, err := c.invoke(common.NewViewConversationRequest(username, otherUser))
	if err != nil {
		return nil, err
	}
	return common.ToChatMessages(resp.Messages), nil
}

func (c *rpcChatClient) ListAccounts(requester, pattern string) ([]string, error) {
	resp, err := c.invoke(common.NewListAccountsRequest(requester, pattern))
	if err != nil {
		return nil, err
	}
	if resp.Usernames == nil {
		return []string{}, nil
	}
	return resp.Usernames, nil
}

// --------------------------------------------------------------------------
// Streaming
// --------------------------------------------------------------------------

func (c *rpcChatClient) Subscribe(ctx context.Context, username string, fn func(chat.Message) error) error {
	reqBytes, err := c.serializer.Serialize(*common.NewSubscribeRequest(username))
	if err != nil {
		return fmt.Errorf("failed to serialize subscribe request: %w", err)
	}

	return c.transport.Stream(ctx, reqBytes, func(frame []byte) error {
		item := &common.Message{}
		if err := c.serializer.Deserialize(frame, item); err != nil {
			return fmt.Errorf("failed to deserialize stream item: %w", err)
		}

		switch item.MsgType {
		case common.MsgTDelivery:
			for _, m := range item.Messages {
				if err := fn(common.ToChatMessage(m)); err != nil {
					return err
				}
			}
			return nil
		case common.MsgTSubscribe:
			// the server rejected the subscription
			return checkResponse(common.MsgTSubscribe, item)
		default:
			return checkResponse(common.MsgTDelivery, item)
		}
	})
}

func (c *rpcChatClient) Close() error {
	return c.close()
}
