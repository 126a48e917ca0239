package server

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/rpc/client"
	"github.com/ValentinKolb/dChat/rpc/common"
	"github.com/ValentinKolb/dChat/rpc/serializer"
	"github.com/ValentinKolb/dChat/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const waitFor = 5 * time.Second

type nodeOptions struct {
	id          uint64
	peers       map[uint64]string
	endpoint    string
	dataFile    string
	persistence string
}

// startNode runs a node on a unix socket and stops it at the end of the test
func startNode(t *testing.T, opts nodeOptions) *rpcServer {
	t.Helper()
	config := common.ServerConfig{
		NodeID:        opts.id,
		Peers:         opts.peers,
		DataFile:      opts.dataFile,
		Persistence:   opts.persistence,
		BcryptCost:    bcrypt.MinCost,
		TimeoutSecond: 5,
		LogLevel:      "warning",
		LogFormat:     "console",
		Transport:     common.ServerTransportConfig{Endpoint: opts.endpoint, WorkersPerConn: 8},
	}

	s := NewRPCServer(config, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer(), unix.NewUnixClientTransport)
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	// the node is ready once it answers
	require.Eventually(t, func() bool {
		c, err := client.NewRPCChatClient(clientConfig(opts.endpoint), unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
		if err != nil {
			return false
		}
		defer c.Close()
		_, err = c.ListAccounts("", "*")
		return err == nil
	}, waitFor, 10*time.Millisecond)

	t.Cleanup(func() { stopNode(t, s, done) })
	return s
}

func stopNode(t *testing.T, s *rpcServer, done chan error) {
	t.Helper()
	assert.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Error("node did not stop")
	}
}

func clientConfig(endpoint string) common.ClientConfig {
	return common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{endpoint}, RetryCount: 1},
	}
}

func newClient(t *testing.T, endpoint string) client.IChatClient {
	t.Helper()
	c, err := client.NewRPCChatClient(clientConfig(endpoint), unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func socket(t *testing.T, name string) string {
	return filepath.Join(t.TempDir(), name+".sock")
}

// --------------------------------------------------------------------------
// Single node
// --------------------------------------------------------------------------

func TestSingleNodeOperations(t *testing.T) {
	endpoint := socket(t, "node")
	startNode(t, nodeOptions{id: 1, endpoint: endpoint})
	c := newClient(t, endpoint)

	require.NoError(t, c.CreateAccount("alice", "pw-a"))
	require.NoError(t, c.CreateAccount("bob", "pw-b"))
	require.NoError(t, c.CreateAccount("testuser", "pw-t"))
	assert.ErrorIs(t, c.CreateAccount("alice", "other"), chat.ErrAlreadyExists)

	unread, err := c.Login("alice", "pw-a")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	_, err = c.Login("alice", "wrong")
	assert.ErrorIs(t, err, chat.ErrBadCredential)
	_, err = c.Login("nobody", "pw")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	_, err = c.SendMessage("alice", "nobody", "hi")
	assert.ErrorIs(t, err, chat.ErrRecipientNotFound)

	id1, err := c.SendMessage("alice", "bob", "First")
	require.NoError(t, err)
	id2, err := c.SendMessage("bob", "alice", "Second")
	require.NoError(t, err)
	id3, err := c.SendMessage("alice", "bob", "Third")
	require.NoError(t, err)
	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)

	unread, err = c.Login("bob", "pw-b")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	// limit
	msgs, err := c.ReadMessages("bob", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "First", msgs[0].Content)
	assert.Equal(t, "alice", msgs[0].Sender)

	msgs, err = c.ReadMessages("bob", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Third", msgs[0].Content)

	msgs, err = c.ReadMessages("bob", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	conv, err := c.ViewConversation("alice", "bob")
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, []uint64{id1, id2, id3}, []uint64{conv[0].ID, conv[1].ID, conv[2].ID})

	names, err := c.ListAccounts("alice", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "testuser"}, names)
	names, err = c.ListAccounts("alice", "test*")
	require.NoError(t, err)
	assert.Equal(t, []string{"testuser"}, names)
	names, err = c.ListAccounts("alice", "zzz*")
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.ErrorIs(t, c.DeleteMessages("alice", nil), chat.ErrNoIdsProvided)
	assert.ErrorIs(t, c.DeleteMessages("nobody", []uint64{id1}), chat.ErrNotFound)
	require.NoError(t, c.DeleteMessages("alice", []uint64{id2}))
	assert.ErrorIs(t, c.DeleteMessages("alice", []uint64{id2}), chat.ErrNoMatch)

	conv, err = c.ViewConversation("bob", "alice")
	require.NoError(t, err)
	assert.Len(t, conv, 2)

	require.NoError(t, c.DeleteAccount("bob"))
	assert.ErrorIs(t, c.DeleteAccount("bob"), chat.ErrNotFound)
	conv, err = c.ViewConversation("alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, conv)
	_, err = c.Login("bob", "pw-b")
	assert.ErrorIs(t, err, chat.ErrNotFound)

	// LogOff never fails
	require.NoError(t, c.LogOff("alice"))
	require.NoError(t, c.LogOff("nobody"))
}

func TestSubscribe(t *testing.T) {
	endpoint := socket(t, "node")
	node := startNode(t, nodeOptions{id: 1, endpoint: endpoint})
	c := newClient(t, endpoint)

	require.NoError(t, c.CreateAccount("alice", "pw"))
	require.NoError(t, c.CreateAccount("bob", "pw"))

	// backlog before the subscription stays in the mailbox
	_, err := c.SendMessage("alice", "bob", "backlog")
	require.NoError(t, err)

	received := make(chan chat.Message, 10)
	ended := make(chan error, 1)
	go func() {
		ended <- c.Subscribe(context.Background(), "bob", func(m chat.Message) error {
			received <- m
			return nil
		})
	}()
	require.Eventually(t, func() bool { return node.registry.Has("bob") }, waitFor, 10*time.Millisecond)

	id, err := c.SendMessage("alice", "bob", "live")
	require.NoError(t, err)

	select {
	case m := <-received:
		assert.Equal(t, id, m.ID)
		assert.Equal(t, "live", m.Content)
		assert.Equal(t, "alice", m.Sender)
	case <-time.After(waitFor):
		t.Fatal("message was not pushed")
	}

	// pushed messages do not reach the mailbox
	msgs, err := c.ReadMessages("bob", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "backlog", msgs[0].Content)

	// log off ends the stream
	require.NoError(t, c.LogOff("bob"))
	select {
	case err := <-ended:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("stream did not end after log off")
	}
	assert.False(t, node.registry.Has("bob"))

	// offline again: queued
	_, err = c.SendMessage("alice", "bob", "offline")
	require.NoError(t, err)
	unread, err := c.Login("bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestSubscribeReplacedAndCancelled(t *testing.T) {
	endpoint := socket(t, "node")
	node := startNode(t, nodeOptions{id: 1, endpoint: endpoint})
	c := newClient(t, endpoint)
	require.NoError(t, c.CreateAccount("bob", "pw"))

	first := make(chan error, 1)
	go func() {
		first <- c.Subscribe(context.Background(), "bob", func(chat.Message) error { return nil })
	}()
	require.Eventually(t, func() bool { return node.registry.Has("bob") }, waitFor, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() {
		second <- c.Subscribe(ctx, "bob", func(chat.Message) error { return nil })
	}()

	// the newer subscription replaces the older one
	select {
	case err := <-first:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("replaced stream did not end")
	}
	assert.True(t, node.registry.Has("bob"))

	cancel()
	select {
	case err := <-second:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("cancelled stream did not end")
	}
	assert.Eventually(t, func() bool { return !node.registry.Has("bob") }, waitFor, 10*time.Millisecond)
}

// --------------------------------------------------------------------------
// Primary and follower
// --------------------------------------------------------------------------

func TestPrimaryReplicatesToFollower(t *testing.T) {
	primaryEP, followerEP := socket(t, "primary"), socket(t, "follower")
	peers := map[uint64]string{1: primaryEP, 2: followerEP}

	// start the follower first, the primary dials it lazily on the first mutation
	follower := startNode(t, nodeOptions{id: 2, peers: peers, endpoint: followerEP})
	primary := startNode(t, nodeOptions{id: 1, peers: peers, endpoint: primaryEP})
	require.True(t, primary.coordinator.IsPrimary())
	require.False(t, follower.coordinator.IsPrimary())

	pc := newClient(t, primaryEP)
	fc := newClient(t, followerEP)

	require.NoError(t, pc.CreateAccount("alice", "pw-a"))
	require.NoError(t, pc.CreateAccount("bob", "pw-b"))
	id1, err := pc.SendMessage("alice", "bob", "one")
	require.NoError(t, err)
	_, err = pc.SendMessage("bob", "alice", "two")
	require.NoError(t, err)
	require.NoError(t, pc.DeleteMessages("alice", []uint64{id1}))
	_, err = pc.ReadMessages("alice", 0)
	require.NoError(t, err)

	// the follower converges to the primary's state
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(primary.fsm.Snapshot(), follower.fsm.Snapshot())
	}, waitFor, 10*time.Millisecond)

	// reads that do not mutate are served by the follower
	unread, err := fc.Login("bob", "pw-b")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
	names, err := fc.ListAccounts("", "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
	require.NoError(t, fc.LogOff("bob"))

	// mutations are rejected by the follower
	_, err = fc.SendMessage("alice", "bob", "nope")
	assert.ErrorIs(t, err, chat.ErrNotPrimary)
	assert.Contains(t, err.Error(), "node 1")
	assert.ErrorIs(t, fc.CreateAccount("carol", "pw"), chat.ErrNotPrimary)
	_, err = fc.ReadMessages("bob", 0)
	assert.ErrorIs(t, err, chat.ErrNotPrimary)
	err = fc.Subscribe(context.Background(), "bob", func(chat.Message) error { return nil })
	assert.ErrorIs(t, err, chat.ErrNotPrimary)

	// cascade delete reaches the follower too
	require.NoError(t, pc.DeleteAccount("bob"))
	require.Eventually(t, func() bool {
		_, err := fc.Login("bob", "pw-b")
		return err != nil && assert.ObjectsAreEqual(primary.fsm.Snapshot(), follower.fsm.Snapshot())
	}, waitFor, 10*time.Millisecond)
}

func TestPrimaryIgnoresReplicatedMutations(t *testing.T) {
	endpoint := socket(t, "node")
	node := startNode(t, nodeOptions{id: 1, endpoint: endpoint})

	peer, err := client.NewRPCPeer(clientConfig(endpoint), unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer peer.Close()

	m := &chat.CreateAccount{Username: "mallory", Digest: "x"}
	err = peer.Replicate(m.Kind().String(), chat.EncodeMutation(m))
	assert.ErrorIs(t, err, chat.ErrApply)

	_, err = node.fsm.Login("mallory", "x")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestFollowerRejectsMalformedMutation(t *testing.T) {
	primaryEP, followerEP := socket(t, "primary"), socket(t, "follower")
	peers := map[uint64]string{1: primaryEP, 2: followerEP}
	startNode(t, nodeOptions{id: 2, peers: peers, endpoint: followerEP})

	peer, err := client.NewRPCPeer(clientConfig(followerEP), unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
	require.NoError(t, err)
	defer peer.Close()

	err = peer.Replicate("send_message", []byte{0xff, 0x01})
	assert.ErrorIs(t, err, chat.ErrApply)
	err = peer.Replicate("no_such_op", nil)
	assert.ErrorIs(t, err, chat.ErrApply)
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func TestStateSurvivesRestart(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			opts := nodeOptions{
				id:          1,
				endpoint:    filepath.Join(dir, "node.sock"),
				dataFile:    filepath.Join(dir, "state."+backend),
				persistence: backend,
			}

			// first run
			config := common.ServerConfig{
				NodeID: 1, DataFile: opts.dataFile, Persistence: backend, BcryptCost: bcrypt.MinCost,
				TimeoutSecond: 5, LogLevel: "warning",
				Transport: common.ServerTransportConfig{Endpoint: opts.endpoint},
			}
			s := NewRPCServer(config, unix.NewUnixDefaultServerTransport(), serializer.NewBinarySerializer(), unix.NewUnixClientTransport)
			done := make(chan error, 1)
			go func() { done <- s.Serve() }()

			var c client.IChatClient
			require.Eventually(t, func() bool {
				var err error
				c, err = client.NewRPCChatClient(clientConfig(opts.endpoint), unix.NewUnixClientTransport(), serializer.NewBinarySerializer())
				return err == nil
			}, waitFor, 10*time.Millisecond)

			require.NoError(t, c.CreateAccount("alice", "pw"))
			require.NoError(t, c.CreateAccount("bob", "pw"))
			for i := 0; i < 3; i++ {
				_, err := c.SendMessage("alice", "bob", "msg "+strconv.Itoa(i))
				require.NoError(t, err)
			}
			require.NoError(t, c.Close())
			stopNode(t, s, done)

			// second run on the same data file
			node := startNode(t, opts)
			c2 := newClient(t, opts.endpoint)

			unread, err := c2.Login("bob", "pw")
			require.NoError(t, err)
			assert.Equal(t, 3, unread)

			id, err := c2.SendMessage("bob", "alice", "after restart")
			require.NoError(t, err)
			assert.Equal(t, uint64(4), id)
			assert.Equal(t, uint64(5), node.fsm.Snapshot().NextMessageID)
		})
	}
}
