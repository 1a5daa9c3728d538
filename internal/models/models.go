// Package models holds the plain data types shared across the bookout
// engine: the inventory record read from the exported CSV, the durable
// tracking and checkpoint documents, and the in-memory queue bookkeeping
// types.
package models

import "time"

// TrackingStatus is the terminal (or pending) state of a single reference.
type TrackingStatus string

const (
	// StatusPending means no attempt has produced a terminal outcome yet.
	StatusPending TrackingStatus = ""
	// StatusDownloaded is the terminal success state.
	StatusDownloaded TrackingStatus = "downloaded"
	// StatusFailed is the terminal failure state (retries exhausted).
	StatusFailed TrackingStatus = "failed"
)

// InventoryRecord is one row of the exported inventory CSV. Reference is
// the only column the engine acts on; Columns preserves the rest for
// diagnostics without the engine needing to know the site's schema.
type InventoryRecord struct {
	Reference string
	Columns   map[string]string
}

// Tracking is the JSON-serializable shape of run_data/tracking.json:
// reference -> "downloaded" | "failed" | null.
type Tracking map[string]*TrackingStatus

// Downloaded reports whether ref has reached the terminal success state.
func (t Tracking) Downloaded(ref string) bool {
	status, ok := t[ref]
	return ok && status != nil && *status == StatusDownloaded
}

// Failed reports whether ref is recorded as a terminal failure.
func (t Tracking) Failed(ref string) bool {
	status, ok := t[ref]
	return ok && status != nil && *status == StatusFailed
}

// SetDownloaded marks ref as downloaded. It has no guard of its own;
// the check that keeps a downloaded entry from being overwritten by a
// later failure lives in store.TrackingStore.MarkFailed.
func (t Tracking) SetDownloaded(ref string) {
	status := StatusDownloaded
	t[ref] = &status
}

// SetFailed marks ref as a terminal failure.
func (t Tracking) SetFailed(ref string) {
	status := StatusFailed
	t[ref] = &status
}

// SetPending ensures ref has an entry without a terminal outcome yet.
func (t Tracking) SetPending(ref string) {
	if _, ok := t[ref]; !ok {
		t[ref] = nil
	}
}

// Checkpoint is the JSON-serializable shape of run_data/checkpoint.json.
type Checkpoint struct {
	RunStartedAt        time.Time `json:"runStartedAt"`
	Attempted           int       `json:"attempted"`
	Succeeded           int       `json:"succeeded"`
	Failed              int       `json:"failed"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastReference       string    `json:"lastReference"`
	LastUpdatedAt       time.Time `json:"lastUpdatedAt"`
}

// RecordSuccess applies the checkpoint transition for a successful
// download of ref.
func (c *Checkpoint) RecordSuccess(ref string) {
	c.Attempted++
	c.Succeeded++
	c.ConsecutiveFailures = 0
	c.LastReference = ref
	c.LastUpdatedAt = time.Now().UTC()
}

// RecordFailure applies the checkpoint transition for a terminal failure
// of ref.
func (c *Checkpoint) RecordFailure(ref string) {
	c.Attempted++
	c.Failed++
	c.ConsecutiveFailures++
	c.LastReference = ref
	c.LastUpdatedAt = time.Now().UTC()
}

// InProgressEntry describes a reference currently owned by a worker.
type InProgressEntry struct {
	WorkerID      int
	StartedAt     time.Time
	AttemptNumber int
}

// QueueStats is the snapshot returned by TaskQueue.Stats.
type QueueStats struct {
	Pending         int `json:"pending"`
	InProgress      int `json:"inProgress"`
	Completed       int `json:"completed"`
	TerminallyFailed int `json:"terminallyFailed"`
}

// Drained reports whether the queue has no pending and no in-progress work.
func (s QueueStats) Drained() bool {
	return s.Pending == 0 && s.InProgress == 0
}

// Outcome describes the terminal result of processing one reference,
// used for reporting and for the progress broadcaster.
type Outcome struct {
	Reference     string        `json:"reference"`
	Status        TrackingStatus `json:"status"`
	Attempts      int           `json:"attempts"`
	DurationSec   float64       `json:"durationSeconds"`
	Error         string        `json:"error,omitempty"`
	CompletedAt   time.Time     `json:"completedAt"`
}

// DownloadArtifact is the result of a successful PDF critical-section
// pass: bytes ready to be written atomically under pdfs/<reference>.pdf.
type DownloadArtifact struct {
	Reference string
	Filename  string
	Bytes     []byte
}
