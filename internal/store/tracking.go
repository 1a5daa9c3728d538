package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Pbein/JDPBookout/internal/models"
)

// TrackingStore is the single-writer, crash-safe wrapper around
// run_data/tracking.json. All mutation goes through its own mutex so
// concurrent workers never interleave partial writes. Callers update the
// task queue and this store in separate steps, without holding the queue
// mutex across both; the store guarantees each individual persisted
// document is internally consistent regardless of caller discipline.
type TrackingStore struct {
	mu   sync.Mutex
	path string
	data models.Tracking
}

// LoadTrackingStore loads (or creates empty) the tracking document at
// <runDir>/run_data/tracking.json.
func LoadTrackingStore(runDir string) (*TrackingStore, error) {
	path := filepath.Join(DataDir(runDir), "tracking.json")
	s := &TrackingStore{path: path, data: models.Tracking{}}

	if err := ReadJSON(path, &s.data); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load tracking store %s: %w", path, err)
		}
		s.data = models.Tracking{}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *TrackingStore) Path() string { return s.path }

// Snapshot returns a copy of the current tracking map.
func (s *TrackingStore) Snapshot() models.Tracking {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(models.Tracking, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// MarkDownloaded records ref as downloaded and persists atomically.
// Never demotes a reference that is already downloaded.
func (s *TrackingStore) MarkDownloaded(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Downloaded(ref) {
		return nil
	}
	s.data.SetDownloaded(ref)
	return WriteJSON(s.path, s.data)
}

// MarkFailed records ref as terminally failed and persists atomically.
// A no-op if ref is already downloaded (success is never overwritten).
func (s *TrackingStore) MarkFailed(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data.Downloaded(ref) {
		return nil
	}
	s.data.SetFailed(ref)
	return WriteJSON(s.path, s.data)
}

// EnsurePending adds ref with no terminal outcome if it is not already
// tracked. It does not write to disk by itself; callers typically call
// this for every inventory reference once at startup then persist with
// Flush so a fresh tracking.json enumerates the whole inventory.
func (s *TrackingStore) EnsurePending(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.SetPending(ref)
}

// Flush persists the current in-memory tracking map.
func (s *TrackingStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteJSON(s.path, s.data)
}

// PendingReferences returns every reference from the given inventory that
// is not already downloaded, applying the resume policy from the spec:
// a reference marked failed is retried if its PDF file does not already
// exist on disk for this run.
func (s *TrackingStore) PendingReferences(runDir string, inventory []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, 0, len(inventory))
	for _, ref := range inventory {
		if s.data.Downloaded(ref) {
			continue
		}
		if s.data.Failed(ref) {
			if Exists(PDFPath(runDir, ref)) {
				continue
			}
		}
		pending = append(pending, ref)
	}
	return pending
}
