package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Pbein/JDPBookout/internal/store"
)

func TestRender_WritesNonEmptyPDF(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.MkdirAll(store.DataDir(runDir), 0o755))

	data := Data{
		RunDir: runDir,
		Summary: &store.RunSummary{
			TotalInventory: 100,
			Attempted:      80,
			Succeeded:      75,
			Failed:         5,
			Remaining:      20,
			StartedAt:      time.Now().Add(-time.Hour),
			CompletedAt:    time.Now(),
			RuntimeSeconds: 3600,
		},
		AverageSuccessSecs: 12.5,
		TerminalFailures:   []string{"REF-1", "REF-2"},
	}

	path, err := Render(data)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(store.DataDir(runDir), "report.pdf"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))
}

func TestRender_NoFailuresIsValid(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.MkdirAll(store.DataDir(runDir), 0o755))

	_, err := Render(Data{RunDir: runDir})
	require.NoError(t, err)
}
