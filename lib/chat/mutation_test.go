package chat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
)

// TestMutationEncoding checks the encoded size and the round trip of every mutation kind
func TestMutationEncoding(t *testing.T) {
	tests := []struct {
		name     string
		mutation Mutation
		size     int
	}{
		{
			name:     "CreateAccount",
			mutation: &CreateAccount{Username: "alice", Digest: "$2a$04$digest"},
			size:     1 + 4 + 5 + 4 + 13,
		},
		{
			name: "SendMessage",
			mutation: &SendMessage{
				Recipient: "bob",
				Message:   Message{ID: 42, Sender: "alice", Content: "hello", Timestamp: "2024-01-01T00:00:00.000000"},
				Delivered: true,
			},
			size: 1 + (4 + 3) + 8 + (4 + 5) + (4 + 5) + (4 + 26) + 1,
		},
		{
			name:     "SendMessage with empty content",
			mutation: &SendMessage{Recipient: "bob", Message: Message{ID: 1, Sender: "alice"}},
			size:     1 + (4 + 3) + 8 + (4 + 5) + 4 + 4 + 1,
		},
		{
			name:     "DeleteAccount",
			mutation: &DeleteAccount{Username: "bob"},
			size:     1 + 4 + 3,
		},
		{
			name:     "DeleteMessages",
			mutation: &DeleteMessages{Username: "bob", IDs: []uint64{1, 2, 3}, MailboxOnly: true},
			size:     1 + (4 + 3) + 1 + 4 + 3*8,
		},
		{
			name:     "DeleteMessages without ids",
			mutation: &DeleteMessages{Username: "bob"},
			size:     1 + (4 + 3) + 1 + 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodeMutation(tt.mutation)
			if len(data) != tt.size {
				t.Errorf("EncodeMutation() size = %d, want %d", len(data), tt.size)
			}
			if MutationKind(data[0]) != tt.mutation.Kind() {
				t.Errorf("kind byte = %d, want %d", data[0], tt.mutation.Kind())
			}

			decoded, err := DecodeMutation(data)
			if err != nil {
				t.Fatalf("DecodeMutation() error = %v", err)
			}
			if !reflect.DeepEqual(decoded, tt.mutation) {
				t.Errorf("DecodeMutation() = %+v, want %+v", decoded, tt.mutation)
			}
		})
	}
}

// TestMutationWireLayout pins the byte layout of a DeleteMessages mutation
func TestMutationWireLayout(t *testing.T) {
	data := EncodeMutation(&DeleteMessages{Username: "u", IDs: []uint64{258}})

	expected := []byte{byte(MutationTDeleteMessages), 0, 0, 0, 1, 'u', 0, 0, 0, 0, 1}
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, 258)
	expected = append(expected, id...)

	if !bytes.Equal(data, expected) {
		t.Errorf("EncodeMutation() = %v, want %v", data, expected)
	}
}

// TestDecodeMutationErrors checks that malformed input is rejected with an apply error
func TestDecodeMutationErrors(t *testing.T) {
	valid := EncodeMutation(&SendMessage{Recipient: "bob", Message: Message{ID: 1, Sender: "alice", Content: "x"}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown kind", []byte{0xff, 0, 0, 0, 0}},
		{"zero kind", []byte{0}},
		{"truncated", valid[:len(valid)-3]},
		{"trailing bytes", append(append([]byte(nil), valid...), 1, 2)},
		{"string length overflow", []byte{byte(MutationTDeleteAccount), 0xff, 0xff, 0xff, 0xff}},
		{"id count overflow", []byte{byte(MutationTDeleteMessages), 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}},
		{"string length sign bit", []byte{byte(MutationTDeleteAccount), 0x80, 0, 0, 0, 'x'}},
		{"id count sign bit", []byte{byte(MutationTDeleteMessages), 0, 0, 0, 0, 0, 0x80, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}},
		{"content length overflow", sendMessageWithContentLength(0xFFFFFFFF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMutation(tt.data)
			if err == nil {
				t.Fatal("DecodeMutation() expected error")
			}
			if !errors.Is(err, ErrApply) {
				t.Errorf("DecodeMutation() error = %v, want apply error", err)
			}
		})
	}
}

// sendMessageWithContentLength builds a SendMessage payload whose content length prefix
// is n while only a single content byte follows
func sendMessageWithContentLength(n uint32) []byte {
	data := []byte{byte(MutationTSendMessage), 0, 0, 0, 1, 'b'}
	data = binary.BigEndian.AppendUint64(data, 1)
	data = append(data, 0, 0, 0, 1, 'a')
	data = binary.BigEndian.AppendUint32(data, n)
	return append(data, 'x')
}

// TestMutationKindNames checks that the wire names round trip
func TestMutationKindNames(t *testing.T) {
	for _, k := range []MutationKind{MutationTCreateAccount, MutationTSendMessage, MutationTDeleteAccount, MutationTDeleteMessages} {
		parsed, err := ParseMutationKind(k.String())
		if err != nil {
			t.Fatalf("ParseMutationKind(%q) error = %v", k.String(), err)
		}
		if parsed != k {
			t.Errorf("ParseMutationKind(%q) = %v, want %v", k.String(), parsed, k)
		}
	}

	if _, err := ParseMutationKind("drop_table"); !errors.Is(err, ErrApply) {
		t.Errorf("ParseMutationKind(unknown) error = %v, want apply error", err)
	}
}

// TestIDAllocator checks allocation and observation of replicated ids
func TestIDAllocator(t *testing.T) {
	a := NewIDAllocator(0)
	if got := a.Next(); got != 1 {
		t.Errorf("first id = %d, want 1", got)
	}
	if got := a.Next(); got != 2 {
		t.Errorf("second id = %d, want 2", got)
	}

	a.Observe(1)
	if got := a.Peek(); got != 3 {
		t.Errorf("Peek() after observing old id = %d, want 3", got)
	}

	a.Observe(10)
	if got := a.Next(); got != 11 {
		t.Errorf("Next() after Observe(10) = %d, want 11", got)
	}
}
