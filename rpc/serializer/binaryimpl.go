package serializer

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dChat/rpc/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// NewBinarySerializer creates a new serializer using the protobuf wire format. Only set
// fields are written, so small messages stay small.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer on top of protowire
type binarySerializerImpl struct {
}

// Field numbers of common.Message
const (
	fieldMsgType   protowire.Number = 1
	fieldUsername  protowire.Number = 2
	fieldPassword  protowire.Number = 3
	fieldPeer      protowire.Number = 4
	fieldContent   protowire.Number = 5
	fieldPattern   protowire.Number = 6
	fieldLimit     protowire.Number = 7
	fieldIDs       protowire.Number = 8 // packed
	fieldOp        protowire.Number = 9
	fieldPayload   protowire.Number = 10
	fieldOk        protowire.Number = 11
	fieldCode      protowire.Number = 12
	fieldText      protowire.Number = 13
	fieldCount     protowire.Number = 14
	fieldMessages  protowire.Number = 15 // repeated, embedded
	fieldUsernames protowire.Number = 16 // repeated
	fieldErr       protowire.Number = 17
)

// Field numbers of common.ChatMessage
const (
	fieldChatID        protowire.Number = 1
	fieldChatSender    protowire.Number = 2
	fieldChatContent   protowire.Number = 3
	fieldChatTimestamp protowire.Number = 4
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	buf := make([]byte, 0, 64)

	buf = appendVarint(buf, fieldMsgType, uint64(msg.MsgType))
	buf = appendString(buf, fieldUsername, msg.Username)
	buf = appendString(buf, fieldPassword, msg.Password)
	buf = appendString(buf, fieldPeer, msg.Peer)
	buf = appendString(buf, fieldContent, msg.Content)
	buf = appendString(buf, fieldPattern, msg.Pattern)
	buf = appendVarint(buf, fieldLimit, uint64(msg.Limit))

	if len(msg.IDs) > 0 {
		var packed []byte
		for _, id := range msg.IDs {
			packed = protowire.AppendVarint(packed, id)
		}
		buf = protowire.AppendTag(buf, fieldIDs, protowire.BytesType)
		buf = protowire.AppendBytes(buf, packed)
	}

	buf = appendString(buf, fieldOp, msg.Op)
	if len(msg.Payload) > 0 {
		buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg.Payload)
	}

	if msg.Ok {
		buf = appendVarint(buf, fieldOk, 1)
	}
	buf = appendVarint(buf, fieldCode, uint64(msg.Code))
	buf = appendString(buf, fieldText, msg.Text)
	buf = appendVarint(buf, fieldCount, uint64(msg.Count))

	for _, m := range msg.Messages {
		var inner []byte
		inner = appendVarint(inner, fieldChatID, m.ID)
		inner = appendString(inner, fieldChatSender, m.Sender)
		inner = appendString(inner, fieldChatContent, m.Content)
		inner = appendString(inner, fieldChatTimestamp, m.Timestamp)
		buf = protowire.AppendTag(buf, fieldMessages, protowire.BytesType)
		buf = protowire.AppendBytes(buf, inner)
	}

	for _, name := range msg.Usernames {
		// repeated strings are written even if empty to keep their position
		buf = protowire.AppendTag(buf, fieldUsernames, protowire.BytesType)
		buf = protowire.AppendString(buf, name)
	}

	buf = appendString(buf, fieldErr, msg.Err)
	return buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	*msg = common.Message{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldMsgType:
				msg.MsgType = common.MessageType(v)
			case fieldLimit:
				msg.Limit = int64(v)
			case fieldOk:
				msg.Ok = v != 0
			case fieldCode:
				msg.Code = uint8(v)
			case fieldCount:
				msg.Count = int64(v)
			}

		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := b.setBytesField(msg, num, v); err != nil {
				return err
			}

		default:
			// unknown field of another wire type, skip it
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// setBytesField handles all length delimited fields.
func (b binarySerializerImpl) setBytesField(msg *common.Message, num protowire.Number, v []byte) error {
	switch num {
	case fieldUsername:
		msg.Username = string(v)
	case fieldPassword:
		msg.Password = string(v)
	case fieldPeer:
		msg.Peer = string(v)
	case fieldContent:
		msg.Content = string(v)
	case fieldPattern:
		msg.Pattern = string(v)
	case fieldOp:
		msg.Op = string(v)
	case fieldText:
		msg.Text = string(v)
	case fieldErr:
		msg.Err = string(v)
	case fieldPayload:
		msg.Payload = append([]byte(nil), v...)
	case fieldUsernames:
		msg.Usernames = append(msg.Usernames, string(v))
	case fieldIDs:
		for len(v) > 0 {
			id, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return fmt.Errorf("ids: %w", protowire.ParseError(n))
			}
			msg.IDs = append(msg.IDs, id)
			v = v[n:]
		}
	case fieldMessages:
		m, err := decodeChatMessage(v)
		if err != nil {
			return fmt.Errorf("messages: %w", err)
		}
		msg.Messages = append(msg.Messages, m)
	}
	return nil
}

func decodeChatMessage(data []byte) (common.ChatMessage, error) {
	var m common.ChatMessage
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldChatID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			m.ID = v
			data = data[n:]
		case typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			switch num {
			case fieldChatSender:
				m.Sender = string(v)
			case fieldChatContent:
				m.Content = string(v)
			case fieldChatTimestamp:
				m.Timestamp = string(v)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, errors.New("malformed chat message")
			}
			data = data[n:]
		}
	}
	return m, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// appendVarint writes a varint field, zero values are omitted.
func appendVarint(buf []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

// appendString writes a string field, empty strings are omitted.
func appendString(buf []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return buf
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}
