package chat

// IChatService is the client facing surface of a chat node. It is implemented by the
// local StateMachine and by the RPC client (rpc/client), so callers do not care whether
// the state lives in process or behind a transport.
//
// Failing operations return a *Error; use errors.Is with the Err* sentinels to test the kind.
type IChatService interface {
	// CreateAccount registers a new user. Fails with ErrAlreadyExists if the name is taken.
	CreateAccount(username, password string) error

	// Login verifies the credentials and returns the number of unread mailbox messages.
	// Fails with ErrNotFound or ErrBadCredential.
	Login(username, password string) (unread int, err error)

	// LogOff ends the user's live subscription. It never fails for unknown users.
	LogOff(username string) error

	// DeleteAccount removes the account, its mailbox, its subscription and every
	// conversation the user takes part in. Fails with ErrNotFound.
	DeleteAccount(username string) error

	// SendMessage stores a new message and pushes it to the recipient if they are online,
	// otherwise it is queued in the recipient's mailbox. Returns the new message id.
	// Fails with ErrRecipientNotFound. The sender must be a registered account as well,
	// an unknown sender fails with ErrNotFound after the recipient was checked.
	SendMessage(sender, recipient, content string) (id uint64, err error)

	// ReadMessages removes and returns up to limit mailbox messages (all if limit <= 0).
	// An unknown user yields an empty result.
	ReadMessages(username string, limit int) ([]Message, error)

	// DeleteMessages removes the given ids from the user's mailbox and from every
	// conversation of the user. Fails with ErrNotFound, ErrNoIdsProvided or ErrNoMatch.
	DeleteMessages(username string, ids []uint64) error

	// ViewConversation returns the full conversation with otherUser in id order and clears
	// the unread mailbox messages sent by otherUser. Unknown otherUser yields an empty result.
	ViewConversation(username, otherUser string) ([]Message, error)

	// ListAccounts returns the usernames matching the shell glob pattern (empty means "*")
	// in creation order.
	ListAccounts(requester, pattern string) ([]string, error)
}

// --------------------------------------------------------------------------
// Collaborators of the StateMachine
// --------------------------------------------------------------------------

// Hasher creates and checks password digests.
type Hasher interface {
	Hash(password string) (digest string, err error)
	Verify(digest, password string) bool
}

// Persister stores a full copy of the chat state. It is called with the machine lock held.
type Persister interface {
	Save(snapshot *Snapshot) error
}

// Forwarder hands a mutation to the replication layer. It is called with the machine lock
// held and must not block.
type Forwarder interface {
	Forward(m Mutation)
}

// Deliverer pushes messages to online users. It is called with the machine lock held and
// must not block.
type Deliverer interface {
	// Deliver returns true if the message was handed to a live subscription of username.
	Deliver(username string, msg Message) bool
	// Unregister drops the live subscription of username, if any.
	Unregister(username string)
}
