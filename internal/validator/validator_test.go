package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pbein/JDPBookout/internal/models"
)

func TestMatchReference_PrefersLabeledPatterns(t *testing.T) {
	assert.Equal(t, "ABC1234", matchReference("Stock Number: ABC1234\nVIN: 1234567890123456"))
	assert.Equal(t, "REF9999", matchReference("Reference Number: REF9999"))
	assert.Equal(t, "12345678", matchReference("some unlabeled run of digits 12345678 in the body"))
	assert.Equal(t, "", matchReference("no reference-shaped text here"))
}

func strPtr(s models.TrackingStatus) *models.TrackingStatus { return &s }

func TestValidateAgainst_FlagsMissingFileAndNoUnexpected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "REF-1.pdf"), []byte("%PDF fake"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "REF-2.pdf"), []byte("%PDF fake"), 0o644))

	tracking := models.Tracking{
		"REF-1": strPtr(models.StatusDownloaded),
		"REF-2": strPtr(models.StatusDownloaded),
		"REF-3": strPtr(models.StatusDownloaded), // tracked downloaded but no file on disk
	}

	report, err := validateAgainst(dir, tracking)
	require.NoError(t, err)

	assert.Equal(t, 2, report.CheckedFiles)
	assert.Equal(t, []string{"REF-3"}, report.MissingFiles)
	assert.Empty(t, report.UnexpectedFiles)
}

func TestValidateAgainst_FlagsUnexpectedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "REF-1.pdf"), []byte("%PDF fake"), 0o644))

	report, err := validateAgainst(dir, models.Tracking{})
	require.NoError(t, err)

	assert.Equal(t, []string{"REF-1"}, report.UnexpectedFiles)
}

func TestValidateAgainst_MissingPdfDirIsNotAnError(t *testing.T) {
	report, err := validateAgainst(filepath.Join(t.TempDir(), "does-not-exist"), models.Tracking{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.CheckedFiles)
}
