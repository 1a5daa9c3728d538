package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Pbein/JDPBookout/internal/models"
)

// CheckpointStore is the single-writer wrapper around
// run_data/checkpoint.json.
type CheckpointStore struct {
	mu   sync.Mutex
	path string
	data models.Checkpoint
}

// LoadCheckpointStore loads (or creates fresh) the checkpoint document at
// <runDir>/run_data/checkpoint.json.
func LoadCheckpointStore(runDir string) (*CheckpointStore, error) {
	path := filepath.Join(DataDir(runDir), "checkpoint.json")
	s := &CheckpointStore{path: path}

	if err := ReadJSON(path, &s.data); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.data = models.Checkpoint{RunStartedAt: time.Now().UTC()}
	}
	return s, nil
}

// Snapshot returns a copy of the current checkpoint record.
func (s *CheckpointStore) Snapshot() models.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// RecordSuccess applies and persists a successful-download transition.
func (s *CheckpointStore) RecordSuccess(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.RecordSuccess(ref)
	return WriteJSON(s.path, &s.data)
}

// RecordFailure applies and persists a terminal-failure transition.
func (s *CheckpointStore) RecordFailure(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.RecordFailure(ref)
	return WriteJSON(s.path, &s.data)
}

// IsStuck reports whether consecutive failures have reached threshold,
// mirroring the original automation's stuck-run heuristic; this is a
// reporting signal only, distinct from the task queue's per-reference
// stuck detection in §4.5.
func (s *CheckpointStore) IsStuck(threshold int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ConsecutiveFailures >= threshold
}
