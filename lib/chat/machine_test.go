package chat

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dChat/lib/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --------------------------------------------------------------------------
// Test collaborators
// --------------------------------------------------------------------------

type recordingForwarder struct {
	mu        sync.Mutex
	mutations []Mutation
}

func (f *recordingForwarder) Forward(m Mutation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations = append(f.mutations, m)
}

func (f *recordingForwarder) all() []Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Mutation(nil), f.mutations...)
}

type recordingPersister struct {
	mu    sync.Mutex
	saves int
	last  *Snapshot
	err   error
}

func (p *recordingPersister) Save(s *Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.last = s
	return p.err
}

// onlineDeliverer treats every user in online as subscribed.
type onlineDeliverer struct {
	mu           sync.Mutex
	online       map[string]bool
	delivered    map[string][]Message
	unregistered []string
}

func newOnlineDeliverer(users ...string) *onlineDeliverer {
	d := &onlineDeliverer{online: map[string]bool{}, delivered: map[string][]Message{}}
	for _, u := range users {
		d.online[u] = true
	}
	return d
}

func (d *onlineDeliverer) Deliver(username string, msg Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online[username] {
		return false
	}
	d.delivered[username] = append(d.delivered[username], msg)
	return true
}

func (d *onlineDeliverer) Unregister(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.online, username)
	d.unregistered = append(d.unregistered, username)
}

func newTestMachine(t *testing.T, opts Options) *StateMachine {
	t.Helper()
	if opts.Hasher == nil {
		opts.Hasher = auth.NewBcryptHasher(bcrypt.MinCost)
	}
	return NewStateMachine(opts)
}

func createUsers(t *testing.T, fsm *StateMachine, users ...string) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, fsm.CreateAccount(u, "pw-"+u))
	}
}

// --------------------------------------------------------------------------
// Accounts
// --------------------------------------------------------------------------

func TestCreateAccountTwice(t *testing.T) {
	fsm := newTestMachine(t, Options{})

	require.NoError(t, fsm.CreateAccount("alice", "pw"))
	err := fsm.CreateAccount("alice", "other")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
}

func TestLogin(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	require.NoError(t, fsm.CreateAccount("alice", "pw"))

	unread, err := fsm.Login("alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	_, err = fsm.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrBadCredential)

	_, err = fsm.Login("nobody", "pw")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoginCountsUnread(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "alice", "bob")

	for i := 0; i < 3; i++ {
		_, err := fsm.SendMessage("alice", "bob", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	unread, err := fsm.Login("bob", "pw-bob")
	require.NoError(t, err)
	assert.Equal(t, 3, unread)
}

func TestPasswordNeverStoredInPlaintext(t *testing.T) {
	fwd := &recordingForwarder{}
	fsm := newTestMachine(t, Options{Forwarder: fwd})
	require.NoError(t, fsm.CreateAccount("alice", "secret"))

	snap := fsm.Snapshot()
	require.Len(t, snap.Users, 1)
	assert.NotEqual(t, "secret", snap.Users[0].Digest)

	muts := fwd.all()
	require.Len(t, muts, 1)
	ca, ok := muts[0].(*CreateAccount)
	require.True(t, ok)
	assert.Equal(t, snap.Users[0].Digest, ca.Digest)
}

func TestListAccounts(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "testB", "alice", "testA", "bob", "test")

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"prefix keeps creation order", "test*", []string{"testB", "testA", "test"}},
		{"empty means all", "", []string{"testB", "alice", "testA", "bob", "test"}},
		{"star", "*", []string{"testB", "alice", "testA", "bob", "test"}},
		{"single char", "test?", []string{"testB", "testA"}},
		{"no match", "zzz*", []string{}},
		{"malformed pattern", "[", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fsm.ListAccounts("anyone", tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestListAccountsShellWildcards(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "team/bob", "alice", "bob", "test/x", "{x}", `back\slash`)

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"star crosses slashes", "*", []string{"team/bob", "alice", "bob", "test/x", "{x}", `back\slash`}},
		{"prefix crosses slashes", "test*", []string{"test/x"}},
		{"question mark matches slash", "team?bob", []string{"team/bob"}},
		{"negated class", "[!a]*", []string{"team/bob", "bob", "test/x", "{x}", `back\slash`}},
		{"class", "[ab]*", []string{"alice", "bob", `back\slash`}},
		{"braces are literal", "{x}", []string{"{x}"}},
		{"backslash is literal", `back\*`, []string{`back\slash`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fsm.ListAccounts("anyone", tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	del := newOnlineDeliverer()
	fsm := newTestMachine(t, Options{Deliverer: del})
	createUsers(t, fsm, "alice", "bob", "carol")

	_, err := fsm.SendMessage("alice", "bob", "hi bob")
	require.NoError(t, err)
	_, err = fsm.SendMessage("bob", "alice", "hi alice")
	require.NoError(t, err)
	_, err = fsm.SendMessage("alice", "carol", "hi carol")
	require.NoError(t, err)

	require.NoError(t, fsm.DeleteAccount("bob"))

	conv, err := fsm.ViewConversation("alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, conv)

	_, err = fsm.Login("bob", "pw-bob")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, del.unregistered, "bob")

	// unrelated conversations survive
	conv, err = fsm.ViewConversation("alice", "carol")
	require.NoError(t, err)
	assert.Len(t, conv, 1)

	err = fsm.DeleteAccount("bob")
	assert.ErrorIs(t, err, ErrNotFound)

	users, _ := fsm.ListAccounts("", "*")
	assert.Equal(t, []string{"alice", "carol"}, users)
}

func TestLogOffAlwaysSucceeds(t *testing.T) {
	del := newOnlineDeliverer("alice")
	fsm := newTestMachine(t, Options{Deliverer: del})

	assert.NoError(t, fsm.LogOff("alice"))
	assert.NoError(t, fsm.LogOff("alice"))
	assert.NoError(t, fsm.LogOff("nobody"))
	assert.Equal(t, []string{"alice", "alice", "nobody"}, del.unregistered)
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

func TestSendAndReadRoundTrip(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "alice", "bob")

	id, err := fsm.SendMessage("alice", "bob", "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	msgs, err := fsm.ReadMessages("bob", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "x", msgs[0].Content)
	assert.Equal(t, "alice", msgs[0].Sender)
	assert.Equal(t, id, msgs[0].ID)

	msgs, err = fsm.ReadMessages("bob", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// reading does not touch the conversation log
	conv, err := fsm.ViewConversation("bob", "alice")
	require.NoError(t, err)
	assert.Len(t, conv, 1)
}

func TestSendMessageErrors(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "alice")

	_, err := fsm.SendMessage("alice", "ghost", "x")
	assert.ErrorIs(t, err, ErrRecipientNotFound)

	_, err = fsm.SendMessage("ghost", "alice", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrRecipientNotFound)
	assert.ErrorContains(t, err, "Sender does not exist")

	// the recipient is checked first
	_, err = fsm.SendMessage("ghost", "phantom", "x")
	assert.ErrorIs(t, err, ErrRecipientNotFound)

	// nothing was allocated for the failed sends
	id, err := fsm.SendMessage("alice", "alice", "note to self")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	msgs, _ := fsm.ReadMessages("alice", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "note to self", msgs[0].Content)
}

func TestReadMessagesLimit(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "alice", "bob")
	for i := 0; i < 5; i++ {
		_, err := fsm.SendMessage("alice", "bob", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	msgs, err := fsm.ReadMessages("bob", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m0", msgs[0].Content)
	assert.Equal(t, "m1", msgs[1].Content)

	msgs, err = fsm.ReadMessages("bob", -1)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)

	msgs, err = fsm.ReadMessages("ghost", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestLiveDeliverySkipsMailbox(t *testing.T) {
	del := newOnlineDeliverer("bob")
	fwd := &recordingForwarder{}
	fsm := newTestMachine(t, Options{Deliverer: del, Forwarder: fwd})
	createUsers(t, fsm, "alice", "bob")

	id, err := fsm.SendMessage("alice", "bob", "live")
	require.NoError(t, err)

	require.Len(t, del.delivered["bob"], 1)
	assert.Equal(t, id, del.delivered["bob"][0].ID)

	msgs, _ := fsm.ReadMessages("bob", 0)
	assert.Empty(t, msgs)

	conv, _ := fsm.ViewConversation("alice", "bob")
	assert.Len(t, conv, 1)

	muts := fwd.all()
	send, ok := muts[len(muts)-1].(*SendMessage)
	require.True(t, ok)
	assert.True(t, send.Delivered)
}

func TestDeleteMessages(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "alice", "bob")

	id1, _ := fsm.SendMessage("alice", "bob", "one")
	id2, _ := fsm.SendMessage("alice", "bob", "two")

	assert.ErrorIs(t, fsm.DeleteMessages("ghost", []uint64{id1}), ErrNotFound)
	assert.ErrorIs(t, fsm.DeleteMessages("bob", nil), ErrNoIdsProvided)
	assert.ErrorIs(t, fsm.DeleteMessages("bob", []uint64{999}), ErrNoMatch)

	require.NoError(t, fsm.DeleteMessages("bob", []uint64{id1}))
	err := fsm.DeleteMessages("bob", []uint64{id1})
	assert.ErrorIs(t, err, ErrNoMatch)

	msgs, _ := fsm.ReadMessages("bob", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, id2, msgs[0].ID)

	conv, _ := fsm.ViewConversation("alice", "bob")
	require.Len(t, conv, 1)
	assert.Equal(t, id2, conv[0].ID)

	// the sender may delete from the shared conversation as well
	require.NoError(t, fsm.DeleteMessages("alice", []uint64{id2}))
	conv, _ = fsm.ViewConversation("alice", "bob")
	assert.Empty(t, conv)
}

func TestViewConversationOrderAndEviction(t *testing.T) {
	fwd := &recordingForwarder{}
	fsm := newTestMachine(t, Options{Forwarder: fwd})
	createUsers(t, fsm, "alice", "bob", "carol")

	var ids []uint64
	for _, c := range []string{"First", "Second", "Third"} {
		id, err := fsm.SendMessage("alice", "bob", c)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := fsm.SendMessage("carol", "bob", "from carol")
	require.NoError(t, err)

	conv, err := fsm.ViewConversation("bob", "alice")
	require.NoError(t, err)
	require.Len(t, conv, 3)
	for i, m := range conv {
		assert.Equal(t, ids[i], m.ID)
	}
	assert.Equal(t, []string{"First", "Second", "Third"}, []string{conv[0].Content, conv[1].Content, conv[2].Content})

	// only carol's message is still unread
	unread, err := fsm.Login("bob", "pw-bob")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	muts := fwd.all()
	evict, ok := muts[len(muts)-1].(*DeleteMessages)
	require.True(t, ok)
	assert.True(t, evict.MailboxOnly)
	assert.Equal(t, ids, evict.IDs)

	conv, err = fsm.ViewConversation("bob", "ghost")
	require.NoError(t, err)
	assert.Empty(t, conv)
}

func TestConcurrentSends(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "alice", "bob")

	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := fsm.SendMessage("alice", "bob", fmt.Sprintf("msg_%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := fsm.ReadMessages("bob", 0)
	require.NoError(t, err)
	require.Len(t, msgs, n)

	seen := map[uint64]bool{}
	for i, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate id %d", m.ID)
		seen[m.ID] = true
		if i > 0 {
			assert.Greater(t, m.ID, msgs[i-1].ID)
		}
	}
}

func TestTimestampFromClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 30, 45, 123456000, time.Local)
	fsm := newTestMachine(t, Options{Clock: func() time.Time { return fixed }})
	createUsers(t, fsm, "alice", "bob")

	_, err := fsm.SendMessage("alice", "bob", "x")
	require.NoError(t, err)
	msgs, _ := fsm.ReadMessages("bob", 0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "2024-03-01T12:30:45.123456", msgs[0].Timestamp)
}

// --------------------------------------------------------------------------
// Persistence and replication hooks
// --------------------------------------------------------------------------

func TestPersistAfterEveryMutation(t *testing.T) {
	p := &recordingPersister{}
	fsm := newTestMachine(t, Options{Persister: p})
	createUsers(t, fsm, "alice", "bob")
	_, _ = fsm.SendMessage("alice", "bob", "x")
	_, _ = fsm.ReadMessages("bob", 0)
	_, _ = fsm.Login("bob", "pw-bob")              // read only
	_, _ = fsm.ListAccounts("", "*")                // read only
	_, _ = fsm.ReadMessages("bob", 0)               // nothing to evict
	_ = fsm.DeleteMessages("bob", []uint64{12345}) // fails

	assert.Equal(t, 4, p.saves)
	assert.Equal(t, uint64(2), p.last.NextMessageID)
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	fsm := newTestMachine(t, Options{Persister: p})

	require.NoError(t, fsm.CreateAccount("alice", "pw"))
	_, err := fsm.Login("alice", "pw")
	assert.NoError(t, err)
}

func TestSnapshotRestore(t *testing.T) {
	fsm := newTestMachine(t, Options{})
	createUsers(t, fsm, "carol", "alice", "bob")
	_, _ = fsm.SendMessage("alice", "bob", "one")
	_, _ = fsm.SendMessage("bob", "carol", "two")

	snap := fsm.Snapshot()

	restored := newTestMachine(t, Options{})
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())

	users, _ := restored.ListAccounts("", "*")
	assert.Equal(t, []string{"carol", "alice", "bob"}, users)

	unread, err := restored.Login("bob", "pw-bob")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	id, err := restored.SendMessage("carol", "alice", "three")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestApplyReplicatedMirrorsPrimary(t *testing.T) {
	fwd := &recordingForwarder{}
	primary := newTestMachine(t, Options{Forwarder: fwd, Deliverer: newOnlineDeliverer("carol")})
	follower := newTestMachine(t, Options{})

	createUsers(t, primary, "alice", "bob", "carol")
	id, _ := primary.SendMessage("alice", "bob", "one")
	_, _ = primary.SendMessage("alice", "bob", "two")
	_, _ = primary.SendMessage("alice", "carol", "live")
	_, _ = primary.ReadMessages("bob", 1)
	require.NoError(t, primary.DeleteMessages("alice", []uint64{id}))

	for _, m := range fwd.all() {
		// go through the wire format like a real follower
		decoded, err := DecodeMutation(EncodeMutation(m))
		require.NoError(t, err)
		require.NoError(t, follower.ApplyReplicated(decoded))
	}

	assert.Equal(t, primary.Snapshot(), follower.Snapshot())
}

func TestApplyReplicatedTolerance(t *testing.T) {
	follower := newTestMachine(t, Options{})

	msg := Message{ID: 7, Sender: "alice", Content: "x", Timestamp: "t"}
	tests := []struct {
		name string
		m    Mutation
	}{
		{"send to missing recipient", &SendMessage{Recipient: "bob", Message: msg}},
		{"delete missing account", &DeleteAccount{Username: "bob"}},
		{"delete messages of missing user", &DeleteMessages{Username: "bob", IDs: []uint64{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, follower.ApplyReplicated(tt.m))
		})
	}
	assert.True(t, follower.Snapshot().Empty())

	// the allocator still learned about id 7
	assert.Equal(t, uint64(8), follower.Snapshot().NextMessageID)

	require.NoError(t, follower.ApplyReplicated(&CreateAccount{Username: "alice", Digest: "d1"}))
	require.NoError(t, follower.ApplyReplicated(&CreateAccount{Username: "alice", Digest: "d2"}))
	require.NoError(t, follower.ApplyReplicated(&CreateAccount{Username: "bob", Digest: "d"}))

	send := &SendMessage{Recipient: "bob", Message: msg}
	require.NoError(t, follower.ApplyReplicated(send))
	require.NoError(t, follower.ApplyReplicated(send))

	snap := follower.Snapshot()
	assert.Equal(t, "d1", snap.Users[0].Digest)
	require.Len(t, snap.Conversations, 1)
	assert.Len(t, snap.Conversations[0].Messages, 1)

	// deleting twice is a no-op the second time
	del := &DeleteMessages{Username: "bob", IDs: []uint64{7}}
	require.NoError(t, follower.ApplyReplicated(del))
	require.NoError(t, follower.ApplyReplicated(del))
	assert.Empty(t, follower.Snapshot().Conversations)

	err := follower.ApplyReplicated(nil)
	assert.ErrorIs(t, err, ErrApply)
}
