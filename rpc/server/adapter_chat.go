package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/lib/delivery"
	"github.com/ValentinKolb/dChat/lib/replication"
	"github.com/ValentinKolb/dChat/rpc/common"
)

// NewChatServerAdapter creates the adapter between the RPC messages and a chat node
func NewChatServerAdapter(fsm *chat.StateMachine, coordinator *replication.Coordinator, registry *delivery.Registry) IRPCServerAdapter {
	return &chatServerAdapter{fsm: fsm, coordinator: coordinator, registry: registry}
}

type chatServerAdapter struct {
	fsm         *chat.StateMachine
	coordinator *replication.Coordinator
	registry    *delivery.Registry
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IRPCServerAdapter)
// --------------------------------------------------------------------------

func (a *chatServerAdapter) Handle(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTCreateAccount:
		if err := a.requirePrimary(); err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		err := a.fsm.CreateAccount(req.Username, req.Password)
		return resultResponse(req.MsgType, err, "Account created")

	case common.MsgTLogin:
		unread, err := a.fsm.Login(req.Username, req.Password)
		if err != nil {
			code, text := errorFields(err)
			return common.NewLoginResponse(0, code, text)
		}
		return common.NewLoginResponse(unread, 0, fmt.Sprintf("Login successful. Unread messages: %d", unread))

	case common.MsgTLogOff:
		err := a.fsm.LogOff(req.Username)
		return resultResponse(req.MsgType, err, "User logged off")

	case common.MsgTDeleteAccount:
		if err := a.requirePrimary(); err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		err := a.fsm.DeleteAccount(req.Username)
		return resultResponse(req.MsgType, err, "Account and all conversation history deleted")

	case common.MsgTSendMessage:
		if err := a.requirePrimary(); err != nil {
			code, text := errorFields(err)
			return common.NewSendMessageResponse(0, code, text)
		}
		id, err := a.fsm.SendMessage(req.Username, req.Peer, req.Content)
		if err != nil {
			code, text := errorFields(err)
			return common.NewSendMessageResponse(0, code, text)
		}
		return common.NewSendMessageResponse(id, 0, "Message sent")

	case common.MsgTReadMessages:
		if err := a.requirePrimary(); err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		msgs, err := a.fsm.ReadMessages(req.Username, int(req.Limit))
		if err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		return common.NewMessagesResponse(req.MsgType, common.FromChatMessages(msgs))

	case common.MsgTDeleteMessages:
		if err := a.requirePrimary(); err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		err := a.fsm.DeleteMessages(req.Username, req.IDs)
		return resultResponse(req.MsgType, err, "Specified messages deleted")

	case common.MsgTViewConversation:
		if err := a.requirePrimary(); err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		msgs, err := a.fsm.ViewConversation(req.Username, req.Peer)
		if err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		return common.NewMessagesResponse(req.MsgType, common.FromChatMessages(msgs))

	case common.MsgTListAccounts:
		names, err := a.fsm.ListAccounts(req.Username, req.Pattern)
		if err != nil {
			return resultResponse(req.MsgType, err, "")
		}
		return common.NewListAccountsResponse(names)

	case common.MsgTReplicate:
		if a.coordinator.IsPrimary() {
			Logger.Warningf("primary received a replicated %s mutation, ignoring it", req.Op)
			return common.NewResultResponse(req.MsgType, uint8(chat.CodeApplyError),
				fmt.Sprintf("Node %d is the primary and does not apply replicated mutations", a.coordinator.Self().ID))
		}
		err := a.coordinator.Apply(req.Op, req.Payload, a.fsm)
		if err != nil {
			Logger.Errorf("failed to apply replicated %s mutation: %v", req.Op, err)
		}
		return resultResponse(req.MsgType, err, "Mutation applied")

	case common.MsgTSubscribe:
		return common.NewErrorResponse("subscribe requires a stream")

	default:
		return common.NewErrorResponse(fmt.Sprintf("unsupported message type: %s", req.MsgType))
	}
}

func (a *chatServerAdapter) Stream(ctx context.Context, req *common.Message, send func(*common.Message) error) error {
	if req.MsgType != common.MsgTSubscribe {
		return fmt.Errorf("unsupported stream type: %s", req.MsgType)
	}

	// a rejected subscription is one result message, then the stream ends
	if err := a.requirePrimary(); err != nil {
		return send(resultResponse(req.MsgType, err, ""))
	}

	sub := a.registry.Register(req.Username)
	defer a.registry.Release(sub)
	Logger.Infof("subscription %s of %q opened", sub.ID, req.Username)

	for {
		select {
		case <-ctx.Done():
			Logger.Infof("subscription %s of %q closed by client", sub.ID, req.Username)
			return nil
		case msg, ok := <-sub.Recv():
			if !ok {
				// replaced by a newer subscription, logged off or deleted
				Logger.Infof("subscription %s of %q ended", sub.ID, req.Username)
				return nil
			}
			if err := send(common.NewDelivery(common.FromChatMessage(*msg))); err != nil {
				return err
			}
		}
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// requirePrimary rejects client mutations on followers
func (a *chatServerAdapter) requirePrimary() error {
	if a.coordinator.IsPrimary() {
		return nil
	}
	return chat.Errorf(chat.CodeNotPrimary, "%s (primary: %s)", chat.ErrNotPrimary.Msg, a.coordinator.Primary())
}

// resultResponse builds a response with the success text or the error of the operation
func resultResponse(t common.MessageType, err error, success string) *common.Message {
	if err != nil {
		code, text := errorFields(err)
		return common.NewResultResponse(t, code, text)
	}
	return common.NewResultResponse(t, 0, success)
}

// errorFields extracts code and text of an operation error
func errorFields(err error) (uint8, string) {
	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		return uint8(chatErr.Code), chatErr.Msg
	}
	return uint8(chat.CodeInternal), err.Error()
}
