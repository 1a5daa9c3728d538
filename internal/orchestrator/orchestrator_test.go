package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForCSV_FindsFileOnceItAppears(t *testing.T) {
	dir := t.TempDir()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "inventory.csv"), []byte("a,b\n"), 0o644)
	}()

	path, err := waitForCSV(dir, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "inventory.csv"), path)
}

func TestWaitForCSV_TimesOutWhenNoFileAppears(t *testing.T) {
	dir := t.TempDir()

	_, err := waitForCSV(dir, 50*time.Millisecond)
	require.Error(t, err)
}

func TestWaitForCSV_IgnoresNonCSVFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a csv"), 0o644))

	_, err := waitForCSV(dir, 50*time.Millisecond)
	require.Error(t, err)
}

func TestFatalSetupError_UnwrapsToUnderlyingCause(t *testing.T) {
	cause := errors.New("browser launch failed")
	err := &FatalSetupError{Stage: "launch browser", Err: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "launch browser")
}
