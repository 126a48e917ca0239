package common

import "github.com/ValentinKolb/dChat/lib/chat"

// FromChatMessage converts a chat message into its wire shape
func FromChatMessage(m chat.Message) ChatMessage {
	return ChatMessage{ID: m.ID, Sender: m.Sender, Content: m.Content, Timestamp: m.Timestamp}
}

// FromChatMessages converts chat messages into their wire shape, nil stays nil
func FromChatMessages(msgs []chat.Message) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = FromChatMessage(m)
	}
	return out
}

// ToChatMessage converts a wire message back into a chat message
func ToChatMessage(m ChatMessage) chat.Message {
	return chat.Message{ID: m.ID, Sender: m.Sender, Content: m.Content, Timestamp: m.Timestamp}
}

// ToChatMessages converts wire messages back into chat messages. The result is never nil
func ToChatMessages(msgs []ChatMessage) []chat.Message {
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = ToChatMessage(m)
	}
	return out
}
