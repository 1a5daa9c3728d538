package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestReadReferences_UsesNamedColumnAndSkipsBlank(t *testing.T) {
	path := writeCSV(t, "Make,Reference Number,Model\n"+
		"Ford,REF-100,F150\n"+
		"Ford,,F150\n"+
		"Toyota,REF-101,Camry\n")

	refs, err := ReadReferences(path, "Reference Number")
	require.NoError(t, err)
	assert.Equal(t, []string{"REF-100", "REF-101"}, refs)
}

func TestReadReferences_ColumnMatchIsCaseInsensitive(t *testing.T) {
	path := writeCSV(t, "reference number\nREF-1\n")

	refs, err := ReadReferences(path, "Reference Number")
	require.NoError(t, err)
	assert.Equal(t, []string{"REF-1"}, refs)
}

func TestReadReferences_MissingColumnIsError(t *testing.T) {
	path := writeCSV(t, "Make,Model\nFord,F150\n")

	_, err := ReadReferences(path, "Reference Number")
	assert.Error(t, err)
}

func TestReadRecords_PreservesOtherColumns(t *testing.T) {
	path := writeCSV(t, "Reference Number,Make\nREF-1,Ford\n")

	records, err := ReadRecords(path, "Reference Number")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "REF-1", records[0].Reference)
	assert.Equal(t, "Ford", records[0].Columns["Make"])
}
