package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for requests, responses and stream items.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Username string   `json:"username,omitempty"` // Used for: all client operations (sender for SendMessage)
	Password string   `json:"password,omitempty"` // Used for: CreateAccount, Login
	Peer     string   `json:"peer,omitempty"`     // Used for: SendMessage (recipient), ViewConversation (other user)
	Content  string   `json:"content,omitempty"`  // Used for: SendMessage
	Pattern  string   `json:"pattern,omitempty"`  // Used for: ListAccounts
	Limit    int64    `json:"limit,omitempty"`    // Used for: ReadMessages
	IDs      []uint64 `json:"ids,omitempty"`      // Used for: DeleteMessages (request), SendMessage (response)
	Op       string   `json:"op,omitempty"`       // Used for: Replicate (operation type)
	Payload  []byte   `json:"payload,omitempty"`  // Used for: Replicate (encoded mutation)

	// Response fields
	Ok        bool          `json:"ok,omitempty"`        // Success flag of the operation
	Code      uint8         `json:"code,omitempty"`      // Error code if Ok is false
	Text      string        `json:"text,omitempty"`      // Human readable result message
	Count     int64         `json:"count,omitempty"`     // Used for: Login (unread messages)
	Messages  []ChatMessage `json:"messages,omitempty"`  // Used for: ReadMessages, ViewConversation, Delivery
	Usernames []string      `json:"usernames,omitempty"` // Used for: ListAccounts

	// Err is set for protocol level failures (unknown message type, decoding errors),
	// operation failures use Ok, Code and Text.
	Err string `json:"err,omitempty"`
}

// ChatMessage is the wire shape of a chat message.
type ChatMessage struct {
	ID        uint64 `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// --------------------------------------------------------------------------
// Message Factory Functions (requests)
// --------------------------------------------------------------------------

// NewCreateAccountRequest creates a new CreateAccount request
func NewCreateAccountRequest(username, password string) *Message {
	return &Message{MsgType: MsgTCreateAccount, Username: username, Password: password}
}

// NewLoginRequest creates a new Login request
func NewLoginRequest(username, password string) *Message {
	return &Message{MsgType: MsgTLogin, Username: username, Password: password}
}

// NewLogOffRequest creates a new LogOff request
func NewLogOffRequest(username string) *Message {
	return &Message{MsgType: MsgTLogOff, Username: username}
}

// NewDeleteAccountRequest creates a new DeleteAccount request
func NewDeleteAccountRequest(username string) *Message {
	return &Message{MsgType: MsgTDeleteAccount, Username: username}
}

// NewSendMessageRequest creates a new SendMessage request
func NewSendMessageRequest(sender, recipient, content string) *Message {
	return &Message{MsgType: MsgTSendMessage, Username: sender, Peer: recipient, Content: content}
}

// NewReadMessagesRequest creates a new ReadMessages request
func NewReadMessagesRequest(username string, limit int) *Message {
	return &Message{MsgType: MsgTReadMessages, Username: username, Limit: int64(limit)}
}

// NewDeleteMessagesRequest creates a new DeleteMessages request
func NewDeleteMessagesRequest(username string, ids []uint64) *Message {
	return &Message{MsgType: MsgTDeleteMessages, Username: username, IDs: ids}
}

// NewViewConversationRequest creates a new ViewConversation request
func NewViewConversationRequest(username, otherUser string) *Message {
	return &Message{MsgType: MsgTViewConversation, Username: username, Peer: otherUser}
}

// NewListAccountsRequest creates a new ListAccounts request
func NewListAccountsRequest(username, pattern string) *Message {
	return &Message{MsgType: MsgTListAccounts, Username: username, Pattern: pattern}
}

// NewSubscribeRequest creates a new Subscribe request (opens a stream)
func NewSubscribeRequest(username string) *Message {
	return &Message{MsgType: MsgTSubscribe, Username: username}
}

// NewReplicateRequest creates a new Replicate request (inter-node only)
func NewReplicateRequest(op string, payload []byte) *Message {
	return &Message{MsgType: MsgTReplicate, Op: op, Payload: payload}
}

// --------------------------------------------------------------------------
// Message Factory Functions (responses)
// --------------------------------------------------------------------------

// NewResultResponse creates a response carrying a success flag and a human readable text.
// A code other than zero marks the operation as failed.
func NewResultResponse(t MessageType, code uint8, text string) *Message {
	return &Message{MsgType: t, Ok: code == 0, Code: code, Text: text}
}

// NewLoginResponse creates a new Login response
func NewLoginResponse(unread int, code uint8, text string) *Message {
	msg := NewResultResponse(MsgTLogin, code, text)
	msg.Count = int64(unread)
	return msg
}

// NewSendMessageResponse creates a new SendMessage response
func NewSendMessageResponse(id uint64, code uint8, text string) *Message {
	msg := NewResultResponse(MsgTSendMessage, code, text)
	if code == 0 {
		msg.IDs = []uint64{id}
	}
	return msg
}

// NewMessagesResponse creates a response for ReadMessages and ViewConversation
func NewMessagesResponse(t MessageType, msgs []ChatMessage) *Message {
	return &Message{MsgType: t, Ok: true, Messages: msgs}
}

// NewListAccountsResponse creates a new ListAccounts response
func NewListAccountsResponse(usernames []string) *Message {
	return &Message{MsgType: MsgTListAccounts, Ok: true, Usernames: usernames}
}

// NewDelivery creates a stream item carrying a single pushed message
func NewDelivery(msg ChatMessage) *Message {
	return &Message{MsgType: MsgTDelivery, Ok: true, Messages: []ChatMessage{msg}}
}

// NewErrorResponse creates a response for protocol level failures
func NewErrorResponse(err string) *Message {
	return &Message{MsgType: MsgTError, Err: err}
}

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

const (
	// General message types
	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates a protocol error

	// Chat operations
	MsgTCreateAccount    // Register a new account
	MsgTLogin            // Verify credentials
	MsgTLogOff           // End the live subscription
	MsgTDeleteAccount    // Remove an account and its conversations
	MsgTSendMessage      // Send a message
	MsgTReadMessages     // Drain the mailbox
	MsgTDeleteMessages   // Delete messages by id
	MsgTViewConversation // Show the conversation with another user
	MsgTListAccounts     // List usernames matching a pattern

	// Streaming
	MsgTSubscribe // Open a live message stream
	MsgTDelivery  // A single message pushed on the stream

	// Inter-node
	MsgTReplicate // Apply a mutation forwarded by the primary
)

var msgTypeNames = map[MessageType]string{
	MsgTUnknown:          "unknown",
	MsgTSuccess:          "success",
	MsgTError:            "error",
	MsgTCreateAccount:    "createAccount",
	MsgTLogin:            "login",
	MsgTLogOff:           "logOff",
	MsgTDeleteAccount:    "deleteAccount",
	MsgTSendMessage:      "sendMessage",
	MsgTReadMessages:     "readMessages",
	MsgTDeleteMessages:   "deleteMessages",
	MsgTViewConversation: "viewConversation",
	MsgTListAccounts:     "listAccounts",
	MsgTSubscribe:        "subscribe",
	MsgTDelivery:         "delivery",
	MsgTReplicate:        "replicate",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range msgTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}
