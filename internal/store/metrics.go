package store

import (
	"path/filepath"
	"sync"
	"time"
)

// StepMetric records the wall-clock duration of one named orchestration
// phase (login, export_inventory, bring_up, drain).
type StepMetric struct {
	Name            string    `json:"name"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// ReferenceMetric records the timing and outcome of one processed
// reference.
type ReferenceMetric struct {
	Reference       string    `json:"reference"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds float64   `json:"durationSeconds"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
}

// RunSummary is the aggregate view of a completed run.
type RunSummary struct {
	TotalInventory int       `json:"totalInventory"`
	Attempted      int       `json:"attempted"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Remaining      int       `json:"remaining"`
	StartedAt      time.Time `json:"startedAt"`
	CompletedAt    time.Time `json:"completedAt"`
	RuntimeSeconds float64   `json:"runtimeSeconds"`
}

// Metrics collects step and per-reference timings for a run and persists
// them to run_data/metrics.json.
type Metrics struct {
	mu         sync.Mutex
	runDir     string
	startedAt  time.Time
	steps      []StepMetric
	references []ReferenceMetric
	starts     map[string]time.Time
	metadata   map[string]string
	summary    *RunSummary
}

// NewMetrics creates a metrics collector for the given run directory.
func NewMetrics(runDir string) *Metrics {
	return &Metrics{
		runDir:    runDir,
		startedAt: time.Now().UTC(),
		starts:    make(map[string]time.Time),
		metadata:  make(map[string]string),
	}
}

// AddMetadata attaches descriptive key/value pairs about the run
// (resolved configuration, worker count, and similar) to the saved
// document.
func (m *Metrics) AddMetadata(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[key] = value
}

// TrackStep records the duration of fn under the given step name.
func (m *Metrics) TrackStep(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.mu.Lock()
	m.steps = append(m.steps, StepMetric{
		Name:            name,
		StartedAt:       start.UTC(),
		DurationSeconds: time.Since(start).Seconds(),
	})
	m.mu.Unlock()
	return err
}

// StartReference marks the beginning of processing a reference.
func (m *Metrics) StartReference(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts[ref] = time.Now()
}

// EndReference marks the end of processing a reference with its outcome.
func (m *Metrics) EndReference(ref, status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, ok := m.starts[ref]
	var duration float64
	if ok {
		duration = time.Since(start).Seconds()
		delete(m.starts, ref)
	}
	m.references = append(m.references, ReferenceMetric{
		Reference:       ref,
		StartedAt:       start.UTC(),
		DurationSeconds: duration,
		Status:          status,
		Error:           errMsg,
	})
}

// Finalize records the run summary.
func (m *Metrics) Finalize(totalInventory, attempted, succeeded, failed, remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	completed := time.Now().UTC()
	m.summary = &RunSummary{
		TotalInventory: totalInventory,
		Attempted:      attempted,
		Succeeded:      succeeded,
		Failed:         failed,
		Remaining:      remaining,
		StartedAt:      m.startedAt,
		CompletedAt:    completed,
		RuntimeSeconds: completed.Sub(m.startedAt).Seconds(),
	}
}

// AverageSuccessDuration returns the mean duration of successful
// downloads, or 0 if none succeeded.
func (m *Metrics) AverageSuccessDuration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total float64
	var n int
	for _, r := range m.references {
		if r.Status == "downloaded" && r.DurationSeconds > 0 {
			total += r.DurationSeconds
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

type metricsDocument struct {
	Metadata   map[string]string `json:"metadata"`
	Steps      []StepMetric      `json:"steps"`
	References []ReferenceMetric `json:"references"`
	Summary    *RunSummary       `json:"summary"`
}

// Save persists the collected metrics to run_data/metrics.json.
func (m *Metrics) Save() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := metricsDocument{
		Metadata:   m.metadata,
		Steps:      m.steps,
		References: m.references,
		Summary:    m.summary,
	}
	path := filepath.Join(DataDir(m.runDir), "metrics.json")
	if err := WriteJSON(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

// Summary returns the recorded run summary, or nil if Finalize was never
// called.
func (m *Metrics) Summary() *RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}
