package chat

import "fmt"

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type of all chat operations. It wraps an error code (of type Code)
// and the human readable message that is shown to users.
type Error struct {
	Code Code   // The error code
	Msg  string // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ChatError (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is a *Error with the same code. This makes the Err* sentinels
// usable with errors.Is regardless of the concrete message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// Code is the kind of failure of a chat operation. The numeric values are part of the
// RPC wire format and must not be reordered.
type Code uint8

const (
	CodeOK                   Code = iota // 0: no error
	CodeNotFound                         // 1: the acting user does not exist
	CodeAlreadyExists                    // 2: the username is taken
	CodeBadCredential                    // 3: the password does not match
	CodeRecipientNotFound                // 4: the recipient of a message does not exist
	CodeNoIdsProvided                    // 5: DeleteMessages without ids
	CodeNoMatch                          // 6: none of the ids belong to the user
	CodeApplyError                       // 7: a replicated mutation could not be decoded or applied
	CodeReplicationTransport             // 8: a peer could not be reached
	CodeNotPrimary                       // 9: the node is a follower and rejects client mutations
	CodeInternal                         // 10: unexpected failure (hashing, encoding, ...)
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeBadCredential:
		return "BadCredential"
	case CodeRecipientNotFound:
		return "RecipientNotFound"
	case CodeNoIdsProvided:
		return "NoIdsProvided"
	case CodeNoMatch:
		return "NoMatch"
	case CodeApplyError:
		return "ApplyError"
	case CodeReplicationTransport:
		return "ReplicationTransportError"
	case CodeNotPrimary:
		return "NotPrimary"
	case CodeInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// Sentinels for errors.Is. The messages are the ones returned to clients.
var (
	ErrNotFound             = NewError(CodeNotFound, "Username does not exist")
	ErrAlreadyExists        = NewError(CodeAlreadyExists, "Username already exists")
	ErrBadCredential        = NewError(CodeBadCredential, "Incorrect password")
	ErrRecipientNotFound    = NewError(CodeRecipientNotFound, "Recipient not found")
	ErrNoIdsProvided        = NewError(CodeNoIdsProvided, "No message IDs provided")
	ErrNoMatch              = NewError(CodeNoMatch, "No matching message found to delete")
	ErrApply                = NewError(CodeApplyError, "Replicated mutation could not be applied")
	ErrReplicationTransport = NewError(CodeReplicationTransport, "Peer unreachable")
	ErrNotPrimary           = NewError(CodeNotPrimary, "This node is not the primary")
	ErrInternal             = NewError(CodeInternal, "Internal error")
)
