package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *chat.Snapshot {
	return &chat.Snapshot{
		NextMessageID: 5,
		Users: []chat.AccountRecord{
			{Username: "carol", Digest: "d-carol"},
			{Username: "alice", Digest: "d-alice"},
			{Username: "bob", Digest: "d-bob", Mailbox: []chat.Message{
				{ID: 2, Sender: "alice", Content: "second", Timestamp: "2024-01-01T00:00:02.000000"},
				{ID: 4, Sender: "carol", Content: "fourth", Timestamp: "2024-01-01T00:00:04.000000"},
			}},
		},
		Conversations: []chat.ConversationRecord{
			{Users: [2]string{"alice", "bob"}, Messages: []chat.Message{
				{ID: 1, Sender: "alice", Content: "first", Timestamp: "2024-01-01T00:00:01.000000"},
				{ID: 2, Sender: "alice", Content: "second", Timestamp: "2024-01-01T00:00:02.000000"},
			}},
			{Users: [2]string{"bob", "carol"}, Messages: []chat.Message{
				{ID: 4, Sender: "carol", Content: "fourth", Timestamp: "2024-01-01T00:00:04.000000"},
			}},
		},
	}
}

func openStores(t *testing.T) map[Backend]ISnapshotStore {
	t.Helper()
	dir := t.TempDir()
	stores := map[Backend]ISnapshotStore{}
	for _, backend := range []Backend{BackendFile, BackendSQLite} {
		store, err := Open(backend, filepath.Join(dir, string(backend), "state.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		stores[backend] = store
	}
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	for backend, store := range openStores(t) {
		t.Run(string(backend), func(t *testing.T) {
			_, ok, err := store.Load()
			require.NoError(t, err)
			assert.False(t, ok, "fresh store must be empty")

			want := sampleSnapshot()
			require.NoError(t, store.Save(want))

			got, ok, err := store.Load()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestStoreOverwrites(t *testing.T) {
	for backend, store := range openStores(t) {
		t.Run(string(backend), func(t *testing.T) {
			require.NoError(t, store.Save(sampleSnapshot()))

			smaller := &chat.Snapshot{
				NextMessageID: 9,
				Users:         []chat.AccountRecord{{Username: "alice", Digest: "d"}},
				Conversations: []chat.ConversationRecord{},
			}
			require.NoError(t, store.Save(smaller))

			got, ok, err := store.Load()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(9), got.NextMessageID)
			require.Len(t, got.Users, 1)
			assert.Equal(t, "alice", got.Users[0].Username)
			assert.Empty(t, got.Users[0].Mailbox)
			assert.Empty(t, got.Conversations)
		})
	}
}

func TestFileStoreRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a snapshot"), 0o644))

	_, _, err := NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.db"))
	require.NoError(t, store.Save(sampleSnapshot()))
	require.NoError(t, store.Save(sampleSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.db", entries[0].Name())
}

func TestSQLiteStorePragmas(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	db := store.(*sqliteStore).db

	var journal string
	require.NoError(t, db.Raw("PRAGMA journal_mode;").Scan(&journal).Error)
	assert.Equal(t, "wal", journal)

	var synchronous, busyTimeout int
	require.NoError(t, db.Raw("PRAGMA synchronous;").Scan(&synchronous).Error)
	assert.Equal(t, 2, synchronous, "synchronous must be FULL")
	require.NoError(t, db.Raw("PRAGMA busy_timeout;").Scan(&busyTimeout).Error)
	assert.Equal(t, 5000, busyTimeout)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("etcd", filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}

type failingStore struct{ ISnapshotStore }

func (failingStore) Save(*chat.Snapshot) error { return errors.New("disk full") }

func TestManager(t *testing.T) {
	mgr := NewManager(NewFileStore(filepath.Join(t.TempDir(), "state.db")))
	defer mgr.Close()

	_, ok, err := mgr.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mgr.Save(sampleSnapshot()))
	got, ok, err := mgr.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleSnapshot(), got)

	failing := NewManager(failingStore{})
	assert.Error(t, failing.Save(sampleSnapshot()))
	// the lock is released after an error
	assert.Error(t, failing.Save(sampleSnapshot()))
}

// TestManagerWithStateMachine restores a machine from what a previous machine persisted
func TestManagerWithStateMachine(t *testing.T) {
	for _, backend := range []Backend{BackendFile, BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			store, err := Open(backend, filepath.Join(t.TempDir(), "state.db"))
			require.NoError(t, err)
			mgr := NewManager(store)
			defer mgr.Close()

			fsm := chat.NewStateMachine(chat.Options{Persister: mgr, Hasher: plainHasher{}})
			require.NoError(t, fsm.CreateAccount("alice", "pw"))
			require.NoError(t, fsm.CreateAccount("bob", "pw"))
			_, err = fsm.SendMessage("alice", "bob", "hello")
			require.NoError(t, err)

			snap, ok, err := mgr.Load()
			require.NoError(t, err)
			require.True(t, ok)

			restored := chat.NewStateMachine(chat.Options{Hasher: plainHasher{}})
			restored.Restore(snap)
			assert.Equal(t, fsm.Snapshot(), restored.Snapshot())

			unread, err := restored.Login("bob", "pw")
			require.NoError(t, err)
			assert.Equal(t, 1, unread)
		})
	}
}

// plainHasher keeps the test fast, digests are irrelevant here
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "plain:" + p, nil }
func (plainHasher) Verify(d, p string) bool       { return d == "plain:"+p }
