package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique identifier for one orchestrator run,
// used to correlate log lines and progress snapshots across workers.
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}
