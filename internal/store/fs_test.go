package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Pbein/JDPBookout/internal/models"
)

func TestResolveRunDir_FreshRootReturnsBase(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	dir, err := ResolveRunDir(root, now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "03-05-2026"), dir)
}

func TestResolveRunDir_EmptyExistingDirIsReused(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	base := filepath.Join(root, "03-05-2026")
	require.NoError(t, os.MkdirAll(DataDir(base), 0o755))

	dir, err := ResolveRunDir(root, now)
	require.NoError(t, err)
	require.Equal(t, base, dir)
}

func TestResolveRunDir_InterruptedRunIsResumedNotShunted(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	base := filepath.Join(root, "03-05-2026")

	tracking, err := LoadTrackingStore(base)
	require.NoError(t, err)
	for _, ref := range []string{"A", "B", "C"} {
		tracking.EnsurePending(ref)
	}
	require.NoError(t, tracking.MarkDownloaded("A"))

	dir, err := ResolveRunDir(root, now)
	require.NoError(t, err)
	require.Equal(t, base, dir, "a run with pending references must resume into the same directory")
}

func TestResolveRunDir_CompletedRunGetsNumberedSibling(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	base := filepath.Join(root, "03-05-2026")

	tracking, err := LoadTrackingStore(base)
	require.NoError(t, err)
	tracking.EnsurePending("A")
	tracking.EnsurePending("B")
	require.NoError(t, tracking.MarkDownloaded("A"))
	require.NoError(t, tracking.MarkFailed("B"))

	dir, err := ResolveRunDir(root, now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "03-05-2026 (2)"), dir)
}

func TestResolveRunDir_SkipsMultipleCompletedSiblings(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	base := filepath.Join(root, "03-05-2026")

	for _, dir := range []string{base, base + " (2)"} {
		tracking, err := LoadTrackingStore(dir)
		require.NoError(t, err)
		tracking.EnsurePending("A")
		require.NoError(t, tracking.MarkDownloaded("A"))
	}

	resolved, err := ResolveRunDir(root, now)
	require.NoError(t, err)
	require.Equal(t, base+" (3)", resolved)
}

func TestWriteArtifact_WritesBytesUnderPDFDir(t *testing.T) {
	runDir := t.TempDir()

	err := WriteArtifact(runDir, models.DownloadArtifact{
		Reference: "REF-1",
		Filename:  "REF-1.pdf",
		Bytes:     []byte("%PDF fake contents"),
	})
	require.NoError(t, err)

	data, err := os.ReadFile(PDFPath(runDir, "REF-1"))
	require.NoError(t, err)
	require.Equal(t, "%PDF fake contents", string(data))
}

func TestWriteArtifact_RejectsMismatchedFilename(t *testing.T) {
	runDir := t.TempDir()

	err := WriteArtifact(runDir, models.DownloadArtifact{
		Reference: "REF-1",
		Filename:  "REF-2.pdf",
		Bytes:     []byte("%PDF fake contents"),
	})
	require.Error(t, err)
	require.NoFileExists(t, PDFPath(runDir, "REF-1"))
}
