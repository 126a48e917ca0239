package persist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	magicNum        = "DCHATSNP" // File format identifier
	snapshotVersion = 1          // Snapshot format version
)

type fileStore struct {
	path string
}

// NewFileStore creates a store that keeps the snapshot in the file at path.
func NewFileStore(path string) ISnapshotStore {
	return &fileStore{path: path}
}

// Save writes the snapshot to a temporary file next to the target and renames it over
// the target, so readers see either the old or the new snapshot.
func (f *fileStore) Save(s *chat.Snapshot) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	bw := bufio.NewWriter(tmp)
	if err := writeSnapshot(bw, s); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *fileStore) Load() (*chat.Snapshot, bool, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()

	s, err := readSnapshot(bufio.NewReader(file))
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot %s: %w", f.path, err)
	}
	return s, true, nil
}

func (f *fileStore) Close() error {
	return nil
}

// writeSnapshot writes the header (magic number and version) followed by the msgpack body.
func writeSnapshot(w io.Writer, s *chat.Snapshot) error {
	if _, err := io.WriteString(w, magicNum); err != nil {
		return err
	}
	if _, err := w.Write([]byte{snapshotVersion}); err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(s)
}

func readSnapshot(r io.Reader) (*chat.Snapshot, error) {
	header := make([]byte, len(magicNum)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header[:len(magicNum)], []byte(magicNum)) {
		return nil, fmt.Errorf("invalid file format: magic number mismatch")
	}
	if version := header[len(magicNum)]; version != snapshotVersion {
		return nil, fmt.Errorf("unsupported version: %d (expected %d)", version, snapshotVersion)
	}

	s := &chat.Snapshot{}
	if err := msgpack.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return s, nil
}
