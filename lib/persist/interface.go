package persist

import (
	"fmt"

	"github.com/ValentinKolb/dChat/lib/chat"
)

// ISnapshotStore is a durable location for a single chat snapshot.
type ISnapshotStore interface {
	// Save overwrites the stored snapshot.
	Save(s *chat.Snapshot) error
	// Load returns the stored snapshot. ok is false if nothing was stored yet.
	Load() (s *chat.Snapshot, ok bool, err error)
	// Close releases all resources.
	Close() error
}

// Backend names a snapshot store implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// Open creates the store for backend at path.
func Open(backend Backend, path string) (ISnapshotStore, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(path), nil
	case BackendSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q (expected %q or %q)", backend, BackendFile, BackendSQLite)
	}
}
