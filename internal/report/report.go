// Package report renders the final human-readable artifact for a run: a
// one-page PDF summarizing the checkpoint/metrics totals and the list of
// terminal failures, for operators who want something shareable without
// parsing metrics.json.
package report

import (
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/Pbein/JDPBookout/internal/store"
)

// Data is everything the renderer needs; callers assemble it from the
// orchestrator's Report and Metrics rather than reaching into store
// internals directly.
type Data struct {
	RunDir             string
	Summary            *store.RunSummary
	AverageSuccessSecs float64
	TerminalFailures   []string
	Stuck              bool
}

// Render writes a one-page summary PDF to runDir/run_data/report.pdf and
// returns the path it wrote to.
func Render(data Data) (string, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "JDPBookout Run Report", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Run directory: %s", data.RunDir), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	renderSummaryTable(pdf, data)
	renderFailureList(pdf, data.TerminalFailures)

	tmpPath := store.DataDir(data.RunDir) + "/report.pdf"
	if err := pdf.OutputFileAndClose(tmpPath); err != nil {
		return "", fmt.Errorf("write report pdf: %w", err)
	}
	return tmpPath, nil
}

func renderSummaryTable(pdf *fpdf.Fpdf, data Data) {
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Totals", "", 1, "L", false, 0, "")

	rows := [][2]string{
		{"Inventory size", "0"},
		{"Attempted", "0"},
		{"Succeeded", "0"},
		{"Failed", "0"},
		{"Remaining", "0"},
		{"Runtime", "0s"},
		{"Average seconds per success", fmt.Sprintf("%.1f", data.AverageSuccessSecs)},
		{"Stuck (consecutive failures at threshold)", fmt.Sprintf("%t", data.Stuck)},
	}
	if s := data.Summary; s != nil {
		rows[0][1] = fmt.Sprintf("%d", s.TotalInventory)
		rows[1][1] = fmt.Sprintf("%d", s.Attempted)
		rows[2][1] = fmt.Sprintf("%d", s.Succeeded)
		rows[3][1] = fmt.Sprintf("%d", s.Failed)
		rows[4][1] = fmt.Sprintf("%d", s.Remaining)
		rows[5][1] = fmt.Sprintf("%.1fs", s.RuntimeSeconds)
	}

	labelWidth := 70.0
	valueWidth := 60.0
	pdf.SetFont("Arial", "", 10)
	for _, row := range rows {
		pdf.SetFillColor(245, 245, 245)
		pdf.CellFormat(labelWidth, 7, row[0], "1", 0, "L", true, 0, "")
		pdf.SetFillColor(255, 255, 255)
		pdf.CellFormat(valueWidth, 7, row[1], "1", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func renderFailureList(pdf *fpdf.Fpdf, failures []string) {
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Terminal failures (%d)", len(failures)), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)

	if len(failures) == 0 {
		pdf.CellFormat(0, 6, "None.", "", 1, "L", false, 0, "")
		return
	}

	for _, ref := range failures {
		pdf.CellFormat(0, 6, "- "+ref, "", 1, "L", false, 0, "")
	}
}
