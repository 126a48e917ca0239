package serializer

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/dChat/rpc/common"
)

// benchmarkMessages returns a set of messages for targeted benchmarking
func benchmarkMessages() map[string]common.Message {
	history := make([]common.ChatMessage, 100)
	for i := range history {
		history[i] = common.ChatMessage{ID: uint64(i + 1), Sender: "alice", Content: "a typical chat line", Timestamp: "2024-01-01T00:00:00.000000"}
	}
	return map[string]common.Message{
		"Empty":       {MsgType: common.MsgTSuccess},
		"Login":       *common.NewLoginRequest("alice", "secret"),
		"SendSmall":   *common.NewSendMessageRequest("alice", "bob", "hi"),
		"SendLarge":   *common.NewSendMessageRequest("alice", "bob", strings.Repeat("x", 16*1024)),
		"Delivery":    *common.NewDelivery(history[0]),
		"History100":  *common.NewMessagesResponse(common.MsgTViewConversation, history),
		"Replicate":   *common.NewReplicateRequest("send_message", make([]byte, 256)),
		"ListAccount": *common.NewListAccountsResponse([]string{"alice", "bob", "carol", "dave"}),
	}
}

func BenchmarkSerialize(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for msgName, msg := range benchmarkMessages() {
			b.Run(name+"/"+msgName, func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := s.Serialize(msg); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkDeserialize(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for msgName, msg := range benchmarkMessages() {
			data, err := s.Serialize(msg)
			if err != nil {
				b.Fatal(err)
			}
			b.Run(name+"/"+msgName, func(b *testing.B) {
				b.ReportAllocs()
				b.SetBytes(int64(len(data)))
				var out common.Message
				for i := 0; i < b.N; i++ {
					if err := s.Deserialize(data, &out); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
