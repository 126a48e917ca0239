package chat

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dChat/lib/auth"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("chat")

// Options configures a StateMachine. Nil collaborators are replaced by no-ops, a nil
// Hasher by a bcrypt hasher with the default cost.
type Options struct {
	Hasher    Hasher
	Persister Persister
	Forwarder Forwarder
	Deliverer Deliverer
	// Clock returns the time used for message timestamps (time.Now if nil).
	Clock func() time.Time
}

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StateMachine owns the chat state of one node. All methods are safe for concurrent use;
// each operation is atomic with respect to all others.
type StateMachine struct {
	mu sync.Mutex

	accounts      map[string]*Account
	order         []string // usernames in creation order
	conversations map[ConversationKey][]Message
	ids           *IDAllocator

	hasher    Hasher
	persister Persister
	forwarder Forwarder
	deliverer Deliverer
	clock     func() time.Time
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(opts Options) *StateMachine {
	fsm := &StateMachine{
		accounts:      make(map[string]*Account),
		conversations: make(map[ConversationKey][]Message),
		ids:           NewIDAllocator(1),
		hasher:        opts.Hasher,
		persister:     opts.Persister,
		forwarder:     opts.Forwarder,
		deliverer:     opts.Deliverer,
		clock:         opts.Clock,
	}
	if fsm.hasher == nil {
		fsm.hasher = auth.NewBcryptHasher(0)
	}
	if fsm.persister == nil {
		fsm.persister = nopPersister{}
	}
	if fsm.forwarder == nil {
		fsm.forwarder = nopForwarder{}
	}
	if fsm.deliverer == nil {
		fsm.deliverer = nopDeliverer{}
	}
	if fsm.clock == nil {
		fsm.clock = time.Now
	}
	return fsm
}

// --------------------------------------------------------------------------
// Client Operations (docu see chat/interface.go)
// --------------------------------------------------------------------------

func (fsm *StateMachine) CreateAccount(username, password string) error {
	fsm.mu.Lock()
	_, exists := fsm.accounts[username]
	fsm.mu.Unlock()
	if exists {
		return ErrAlreadyExists
	}

	// hashing is slow, keep it outside of the lock
	digest, err := fsm.hasher.Hash(password)
	if err != nil {
		return Errorf(CodeInternal, "could not hash password: %v", err)
	}

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if _, exists := fsm.accounts[username]; exists {
		return ErrAlreadyExists
	}
	fsm.addAccount(username, digest)
	fsm.commit(&CreateAccount{Username: username, Digest: digest})
	return nil
}

func (fsm *StateMachine) Login(username, password string) (int, error) {
	fsm.mu.Lock()
	acc, ok := fsm.accounts[username]
	var digest string
	if ok {
		digest = acc.Digest
	}
	fsm.mu.Unlock()

	if !ok {
		return 0, ErrNotFound
	}
	if !fsm.hasher.Verify(digest, password) {
		return 0, ErrBadCredential
	}

	// the account may have been deleted while verifying
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	acc, ok = fsm.accounts[username]
	if !ok {
		return 0, ErrNotFound
	}
	return len(acc.Mailbox), nil
}

func (fsm *StateMachine) LogOff(username string) error {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	fsm.deliverer.Unregister(username)
	return nil
}

func (fsm *StateMachine) DeleteAccount(username string) error {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if _, ok := fsm.accounts[username]; !ok {
		return NewError(CodeNotFound, "User does not exist")
	}
	fsm.removeAccount(username)
	fsm.deliverer.Unregister(username)
	fsm.commit(&DeleteAccount{Username: username})
	return nil
}

func (fsm *StateMachine) SendMessage(sender, recipient, content string) (uint64, error) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	rcpt, ok := fsm.accounts[recipient]
	if !ok {
		return 0, ErrRecipientNotFound
	}
	if _, ok := fsm.accounts[sender]; !ok {
		return 0, NewError(CodeNotFound, "Sender does not exist")
	}

	msg := Message{
		ID:        fsm.ids.Next(),
		Sender:    sender,
		Content:   content,
		Timestamp: FormatTimestamp(fsm.clock()),
	}

	key := NewConversationKey(sender, recipient)
	fsm.conversations[key] = append(fsm.conversations[key], msg)

	delivered := fsm.deliverer.Deliver(recipient, msg)
	if !delivered {
		rcpt.Mailbox = append(rcpt.Mailbox, msg)
	}

	fsm.commit(&SendMessage{Recipient: recipient, Message: msg, Delivered: delivered})
	return msg.ID, nil
}

func (fsm *StateMachine) ReadMessages(username string, limit int) ([]Message, error) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	acc, ok := fsm.accounts[username]
	if !ok || len(acc.Mailbox) == 0 {
		return []Message{}, nil
	}

	n := len(acc.Mailbox)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Message, n)
	copy(out, acc.Mailbox[:n])
	acc.Mailbox = append([]Message(nil), acc.Mailbox[n:]...)

	fsm.commit(&DeleteMessages{Username: username, IDs: messageIDs(out), MailboxOnly: true})
	return out, nil
}

func (fsm *StateMachine) DeleteMessages(username string, ids []uint64) error {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if _, ok := fsm.accounts[username]; !ok {
		return NewError(CodeNotFound, "User not found")
	}
	if len(ids) == 0 {
		return ErrNoIdsProvided
	}
	if !fsm.removeMessages(username, idSet(ids), false) {
		return ErrNoMatch
	}
	fsm.commit(&DeleteMessages{Username: username, IDs: append([]uint64(nil), ids...)})
	return nil
}

func (fsm *StateMachine) ViewConversation(username, otherUser string) ([]Message, error) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if _, ok := fsm.accounts[otherUser]; !ok {
		return []Message{}, nil
	}

	conv := fsm.conversations[NewConversationKey(username, otherUser)]
	out := make([]Message, len(conv))
	copy(out, conv)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	// the conversation has been seen, drop the unread copies from the mailbox
	acc, ok := fsm.accounts[username]
	if !ok {
		return out, nil
	}
	var kept, evicted []Message
	for _, m := range acc.Mailbox {
		if m.Sender == otherUser {
			evicted = append(evicted, m)
		} else {
			kept = append(kept, m)
		}
	}
	if len(evicted) > 0 {
		acc.Mailbox = kept
		fsm.commit(&DeleteMessages{Username: username, IDs: messageIDs(evicted), MailboxOnly: true})
	}
	return out, nil
}

func (fsm *StateMachine) ListAccounts(_ string, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	out := make([]string, 0, len(fsm.order))
	g, err := compilePattern(pattern)
	if err != nil {
		// a malformed pattern matches nothing
		return out, nil
	}
	for _, name := range fsm.order {
		if g.Match(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

// ApplyReplicated applies a mutation received from the primary without validating it.
// Mutations whose targets do not exist (anymore) are ignored. The local Deliverer and
// Forwarder are never called.
func (fsm *StateMachine) ApplyReplicated(m Mutation) error {
	if m == nil {
		return NewError(CodeApplyError, "nil mutation")
	}

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	switch mut := m.(type) {
	case *CreateAccount:
		if _, exists := fsm.accounts[mut.Username]; exists {
			log.Debugf("replicated create_account for existing user %q ignored", mut.Username)
			return nil
		}
		fsm.addAccount(mut.Username, mut.Digest)

	case *SendMessage:
		fsm.ids.Observe(mut.Message.ID)
		rcpt, ok := fsm.accounts[mut.Recipient]
		if !ok {
			log.Debugf("replicated send_message %d to unknown recipient %q ignored", mut.Message.ID, mut.Recipient)
			return nil
		}
		if _, ok := fsm.accounts[mut.Message.Sender]; !ok {
			log.Debugf("replicated send_message %d from unknown sender %q ignored", mut.Message.ID, mut.Message.Sender)
			return nil
		}
		key := NewConversationKey(mut.Message.Sender, mut.Recipient)
		for _, existing := range fsm.conversations[key] {
			if existing.ID == mut.Message.ID {
				log.Debugf("replicated send_message %d already applied", mut.Message.ID)
				return nil
			}
		}
		fsm.conversations[key] = append(fsm.conversations[key], mut.Message)
		if !mut.Delivered {
			rcpt.Mailbox = append(rcpt.Mailbox, mut.Message)
		}

	case *DeleteAccount:
		if _, ok := fsm.accounts[mut.Username]; !ok {
			log.Debugf("replicated delete_account for unknown user %q ignored", mut.Username)
			return nil
		}
		fsm.removeAccount(mut.Username)

	case *DeleteMessages:
		if _, ok := fsm.accounts[mut.Username]; !ok {
			log.Debugf("replicated delete_messages for unknown user %q ignored", mut.Username)
			return nil
		}
		fsm.removeMessages(mut.Username, idSet(mut.IDs), mut.MailboxOnly)

	default:
		return Errorf(CodeApplyError, "unsupported mutation %T", m)
	}

	fsm.persist()
	countMutation(m.Kind(), "replicated")
	return nil
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// Snapshot returns a deep copy of the current state.
func (fsm *StateMachine) Snapshot() *Snapshot {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	return fsm.snapshotLocked()
}

// Restore replaces the current state with the snapshot. A nil snapshot resets the machine.
func (fsm *StateMachine) Restore(s *Snapshot) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	fsm.accounts = make(map[string]*Account)
	fsm.order = nil
	fsm.conversations = make(map[ConversationKey][]Message)
	fsm.ids.Reset(1)
	if s == nil {
		return
	}

	fsm.ids.Reset(s.NextMessageID)
	for _, u := range s.Users {
		fsm.addAccount(u.Username, u.Digest)
		fsm.accounts[u.Username].Mailbox = append([]Message(nil), u.Mailbox...)
	}
	for _, c := range s.Conversations {
		key := NewConversationKey(c.Users[0], c.Users[1])
		fsm.conversations[key] = append(fsm.conversations[key], c.Messages...)
		for _, m := range c.Messages {
			fsm.ids.Observe(m.ID)
		}
	}
}

func (fsm *StateMachine) snapshotLocked() *Snapshot {
	s := &Snapshot{
		NextMessageID: fsm.ids.Peek(),
		Users:         make([]AccountRecord, 0, len(fsm.order)),
		Conversations: make([]ConversationRecord, 0, len(fsm.conversations)),
	}
	for _, name := range fsm.order {
		acc := fsm.accounts[name]
		s.Users = append(s.Users, AccountRecord{
			Username: acc.Username,
			Digest:   acc.Digest,
			Mailbox:  append([]Message(nil), acc.Mailbox...),
		})
	}
	for key, msgs := range fsm.conversations {
		s.Conversations = append(s.Conversations, ConversationRecord{
			Users:    [2]string{key.A, key.B},
			Messages: append([]Message(nil), msgs...),
		})
	}
	// map iteration order is random, keep snapshots deterministic
	sort.Slice(s.Conversations, func(i, j int) bool {
		a, b := s.Conversations[i].Users, s.Conversations[j].Users
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		return a[1] < b[1]
	})
	return s
}

// --------------------------------------------------------------------------
// Internal helpers (callers hold fsm.mu)
// --------------------------------------------------------------------------

func (fsm *StateMachine) addAccount(username, digest string) {
	fsm.accounts[username] = &Account{Username: username, Digest: digest}
	fsm.order = append(fsm.order, username)
}

// removeAccount drops the account, its mailbox and all its conversations.
func (fsm *StateMachine) removeAccount(username string) {
	delete(fsm.accounts, username)
	for i, name := range fsm.order {
		if name == username {
			fsm.order = append(fsm.order[:i:i], fsm.order[i+1:]...)
			break
		}
	}
	for key := range fsm.conversations {
		if key.Contains(username) {
			delete(fsm.conversations, key)
		}
	}
}

// removeMessages removes ids from the mailbox of username and, unless mailboxOnly is set,
// from every conversation of username. Returns true if at least one message was removed.
func (fsm *StateMachine) removeMessages(username string, ids map[uint64]struct{}, mailboxOnly bool) bool {
	found := false

	if acc, ok := fsm.accounts[username]; ok {
		kept, removed := removeIDs(acc.Mailbox, ids)
		if len(removed) > 0 {
			acc.Mailbox = kept
			found = true
		}
	}

	if mailboxOnly {
		return found
	}

	for key, msgs := range fsm.conversations {
		if !key.Contains(username) {
			continue
		}
		kept, removed := removeIDs(msgs, ids)
		if len(removed) == 0 {
			continue
		}
		found = true
		if len(kept) == 0 {
			delete(fsm.conversations, key)
		} else {
			fsm.conversations[key] = kept
		}
	}
	return found
}

// commit runs the side effects of a successful local mutation: persist, then forward.
func (fsm *StateMachine) commit(m Mutation) {
	fsm.persist()
	fsm.forwarder.Forward(m)
	countMutation(m.Kind(), "local")
}

// persist stores the current state. Failures are logged, the in memory state is kept.
func (fsm *StateMachine) persist() {
	if _, nop := fsm.persister.(nopPersister); nop {
		return
	}
	if err := fsm.persister.Save(fsm.snapshotLocked()); err != nil {
		log.Errorf("failed to persist chat state: %v", err)
	}
}

func countMutation(kind MutationKind, origin string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dchat_mutations_total{kind=%q,origin=%q}`, kind.String(), origin)).Inc()
}

// --------------------------------------------------------------------------
// No-op collaborators
// --------------------------------------------------------------------------

type nopPersister struct{}

func (nopPersister) Save(*Snapshot) error { return nil }

type nopForwarder struct{}

func (nopForwarder) Forward(Mutation) {}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(string, Message) bool { return false }
func (nopDeliverer) Unregister(string)            {}
