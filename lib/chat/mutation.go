package chat

import (
	"encoding/binary"
	"fmt"
)

// MutationKind defines the operations that are replicated from the primary to the followers.
type MutationKind uint8

const (
	MutationTCreateAccount  MutationKind = iota + 1 // Register a user with an already computed digest.
	MutationTSendMessage                            // Append a message with a primary assigned id.
	MutationTDeleteAccount                          // Remove a user and all related state.
	MutationTDeleteMessages                         // Remove messages from a mailbox (and conversations).
)

// String returns the operation type name used on the wire.
func (k MutationKind) String() string {
	switch k {
	case MutationTCreateAccount:
		return "create_account"
	case MutationTSendMessage:
		return "send_message"
	case MutationTDeleteAccount:
		return "delete_account"
	case MutationTDeleteMessages:
		return "delete_messages"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseMutationKind is the inverse of MutationKind.String.
func ParseMutationKind(op string) (MutationKind, error) {
	switch op {
	case "create_account":
		return MutationTCreateAccount, nil
	case "send_message":
		return MutationTSendMessage, nil
	case "delete_account":
		return MutationTDeleteAccount, nil
	case "delete_messages":
		return MutationTDeleteMessages, nil
	default:
		return 0, Errorf(CodeApplyError, "unknown operation type %q", op)
	}
}

// Mutation is a state change that the primary replicates to its followers. The set of
// implementations is closed: CreateAccount, SendMessage, DeleteAccount and DeleteMessages.
type Mutation interface {
	Kind() MutationKind
	// sizeBytes returns the encoded size without the leading kind byte.
	sizeBytes() int
	// encode writes the fields into buf, which has exactly sizeBytes() bytes.
	encode(buf []byte)
	// decode reads the fields from data (without the kind byte).
	decode(data []byte) error
}

// CreateAccount carries the digest, never the plaintext password.
type CreateAccount struct {
	Username string
	Digest   string
}

// SendMessage carries the fully formed message as accepted by the primary. Delivered is
// true if the primary pushed the message live, in which case it is not queued in the
// recipient's mailbox.
type SendMessage struct {
	Recipient string
	Message   Message
	Delivered bool
}

// DeleteAccount removes Username with all conversations and the mailbox.
type DeleteAccount struct {
	Username string
}

// DeleteMessages removes IDs from the mailbox of Username. Unless MailboxOnly is set the
// ids are also removed from every conversation of Username. MailboxOnly is used to
// replicate the mailbox evictions caused by reading messages.
type DeleteMessages struct {
	Username    string
	IDs         []uint64
	MailboxOnly bool
}

func (*CreateAccount) Kind() MutationKind  { return MutationTCreateAccount }
func (*SendMessage) Kind() MutationKind    { return MutationTSendMessage }
func (*DeleteAccount) Kind() MutationKind  { return MutationTDeleteAccount }
func (*DeleteMessages) Kind() MutationKind { return MutationTDeleteMessages }

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// EncodeMutation serializes a mutation into a byte array with the format:
// 1 byte for the mutation kind followed by the kind specific fields.
// Strings are written as 4 bytes length (big endian) plus the string bytes,
// numbers as 8 bytes (big endian) and flags as a single byte.
func EncodeMutation(m Mutation) []byte {
	result := make([]byte, 1+m.sizeBytes())
	result[0] = byte(m.Kind())
	m.encode(result[1:])
	return result
}

// DecodeMutation extracts a mutation from a byte array created by EncodeMutation.
// Malformed input yields a *Error with CodeApplyError.
func DecodeMutation(data []byte) (Mutation, error) {
	if len(data) < 1 {
		return nil, NewError(CodeApplyError, "data too short for mutation")
	}

	var m Mutation
	switch MutationKind(data[0]) {
	case MutationTCreateAccount:
		m = &CreateAccount{}
	case MutationTSendMessage:
		m = &SendMessage{}
	case MutationTDeleteAccount:
		m = &DeleteAccount{}
	case MutationTDeleteMessages:
		m = &DeleteMessages{}
	default:
		return nil, Errorf(CodeApplyError, "unknown mutation kind %d", data[0])
	}

	if err := m.decode(data[1:]); err != nil {
		return nil, Errorf(CodeApplyError, "malformed %s mutation: %v", m.Kind(), err)
	}
	return m, nil
}

// ----- CreateAccount -----

func (c *CreateAccount) sizeBytes() int {
	return strSize(c.Username) + strSize(c.Digest)
}

func (c *CreateAccount) encode(buf []byte) {
	off := putString(buf, 0, c.Username)
	putString(buf, off, c.Digest)
}

func (c *CreateAccount) decode(data []byte) (err error) {
	r := reader{data: data}
	c.Username = r.string()
	c.Digest = r.string()
	return r.done()
}

// ----- SendMessage -----

func (s *SendMessage) sizeBytes() int {
	return strSize(s.Recipient) + 8 + strSize(s.Message.Sender) + strSize(s.Message.Content) +
		strSize(s.Message.Timestamp) + 1
}

func (s *SendMessage) encode(buf []byte) {
	off := putString(buf, 0, s.Recipient)
	binary.BigEndian.PutUint64(buf[off:off+8], s.Message.ID)
	off += 8
	off = putString(buf, off, s.Message.Sender)
	off = putString(buf, off, s.Message.Content)
	off = putString(buf, off, s.Message.Timestamp)
	buf[off] = boolByte(s.Delivered)
}

func (s *SendMessage) decode(data []byte) error {
	r := reader{data: data}
	s.Recipient = r.string()
	s.Message.ID = r.uint64()
	s.Message.Sender = r.string()
	s.Message.Content = r.string()
	s.Message.Timestamp = r.string()
	s.Delivered = r.bool()
	return r.done()
}

// ----- DeleteAccount -----

func (d *DeleteAccount) sizeBytes() int {
	return strSize(d.Username)
}

func (d *DeleteAccount) encode(buf []byte) {
	putString(buf, 0, d.Username)
}

func (d *DeleteAccount) decode(data []byte) error {
	r := reader{data: data}
	d.Username = r.string()
	return r.done()
}

// ----- DeleteMessages -----

func (d *DeleteMessages) sizeBytes() int {
	return strSize(d.Username) + 1 + 4 + 8*len(d.IDs)
}

func (d *DeleteMessages) encode(buf []byte) {
	off := putString(buf, 0, d.Username)
	buf[off] = boolByte(d.MailboxOnly)
	off++
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(d.IDs)))
	off += 4
	for _, id := range d.IDs {
		binary.BigEndian.PutUint64(buf[off:off+8], id)
		off += 8
	}
}

func (d *DeleteMessages) decode(data []byte) error {
	r := reader{data: data}
	d.Username = r.string()
	d.MailboxOnly = r.bool()
	n := r.uint32()
	if r.err == nil && uint64(n) > uint64(len(r.data)/8) {
		return fmt.Errorf("data too short for %d ids", n)
	}
	d.IDs = nil
	if n > 0 {
		d.IDs = make([]uint64, n)
		for i := range d.IDs {
			d.IDs[i] = r.uint64()
		}
	}
	return r.done()
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

func strSize(s string) int { return 4 + len(s) }

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// putString writes s length prefixed at off and returns the offset after it.
func putString(buf []byte, off int, s string) int {
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(s)))
	off += 4
	return off + copy(buf[off:], s)
}

// reader consumes fields from a byte slice and remembers the first error.
type reader struct {
	data []byte
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < n {
		r.err = fmt.Errorf("data too short: need %d bytes, have %d", n, len(r.data))
		return nil
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b
}

func (r *reader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) uint64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) bool() bool {
	if b := r.take(1); b != nil {
		return b[0] != 0
	}
	return false
}

func (r *reader) string() string {
	n := r.uint32()
	// compare unsigned, int(n) is negative on 32 bit platforms for n >= 1<<31
	if r.err == nil && uint64(n) > uint64(len(r.data)) {
		r.err = fmt.Errorf("data too short: need %d bytes, have %d", n, len(r.data))
		return ""
	}
	if b := r.take(int(n)); b != nil {
		return string(b)
	}
	return ""
}

// done returns the first error or complains about trailing bytes.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if len(r.data) != 0 {
		return fmt.Errorf("%d trailing bytes", len(r.data))
	}
	return nil
}
