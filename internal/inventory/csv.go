// Package inventory reads the exported inventory CSV and yields the
// ordered set of reference numbers the engine will process.
package inventory

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Pbein/JDPBookout/internal/models"
)

// ReadReferences reads csvPath and returns every non-empty value of
// referenceColumn, in file order. Only the reference column is
// semantically used; ReadRecords below preserves the rest for
// diagnostics.
func ReadReferences(csvPath, referenceColumn string) ([]string, error) {
	records, err := ReadRecords(csvPath, referenceColumn)
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(records))
	for _, r := range records {
		refs = append(refs, r.Reference)
	}
	return refs, nil
}

// ReadRecords reads csvPath as a header-first CSV and returns one
// InventoryRecord per row whose referenceColumn cell is non-empty after
// trimming whitespace.
func ReadRecords(csvPath, referenceColumn string) ([]models.InventoryRecord, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open inventory csv %s: %w", csvPath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // tolerate short rows rather than failing the whole export

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read inventory csv header %s: %w", csvPath, err)
	}

	colIndex := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), referenceColumn) {
			colIndex = i
			break
		}
	}
	if colIndex == -1 {
		return nil, fmt.Errorf("inventory csv %s has no column named %q", csvPath, referenceColumn)
	}

	var records []models.InventoryRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read inventory csv row %s: %w", csvPath, err)
		}
		if colIndex >= len(row) {
			continue
		}
		ref := strings.TrimSpace(row[colIndex])
		if ref == "" {
			continue
		}

		columns := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(row) {
				columns[name] = row[i]
			}
		}
		records = append(records, models.InventoryRecord{Reference: ref, Columns: columns})
	}
	return records, nil
}
