// Package serializer turns the RPC envelope (common.Message) into bytes and back.
// Every transport carries opaque byte slices, so client and server only have to
// agree on the serializer selected on the command line.
//
// Implementations:
//
//   - binarySerializerImpl: protobuf wire format written with protowire. Only
//     present fields are emitted, unknown fields are skipped on decode. This is
//     the default and the most compact encoding.
//
//   - msgpackSerializerImpl: MessagePack via vmihailenco/msgpack. Close to the
//     binary format in size and a reasonable choice for clients in other languages.
//
//   - jsonSerializerImpl: encoding/json. Human-readable, useful for debugging
//     with curl against the http transport.
//
//   - gobSerializerImpl: encoding/gob. Kept for comparison, it is the slowest and
//     largest of the four for the small envelopes of the chat protocol.
//
// All serializers are stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewLoginRequest("alice", "secret"))
//	// ... send data ...
//	var resp common.Message
//	err = s.Deserialize(respData, &resp)
package serializer
