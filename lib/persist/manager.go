package persist

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("persist")

var (
	saveDuration = metrics.GetOrCreateSummary(`dchat_persist_save_duration_seconds`)
	saveFailures = metrics.GetOrCreateCounter(`dchat_persist_save_failures_total`)
)

// Manager owns a snapshot store. Writes are serialized by a mutex that is held for the
// duration of a single Save and released on success and on error.
type Manager struct {
	mu    sync.Mutex
	store ISnapshotStore
}

// NewManager wraps store.
func NewManager(store ISnapshotStore) *Manager {
	return &Manager{store: store}
}

// Save overwrites the stored snapshot. It implements chat.Persister.
func (m *Manager) Save(s *chat.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	if err := m.store.Save(s); err != nil {
		saveFailures.Inc()
		return err
	}
	saveDuration.UpdateDuration(start)

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		log.Infof("saving the snapshot took long (%d users, %d conversations, %.2fms)",
			len(s.Users), len(s.Conversations), float64(elapsed)/float64(time.Millisecond))
	}
	return nil
}

// Load returns the stored snapshot, ok is false if there is none.
func (m *Manager) Load() (*chat.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Load()
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Close()
}
