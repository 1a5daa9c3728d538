// Package validator implements the post-run PDF validator (§4.8): it
// opens every downloaded PDF, recovers the reference embedded in the
// document's own content, and compares that to the filename stem the
// worker gave it. It never mutates tracking — it only reports.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Pbein/JDPBookout/internal/models"
	"github.com/Pbein/JDPBookout/internal/store"
)

// referencePatterns are tried in order against extracted page text; the
// first to match wins. Labeled patterns are preferred over the bare
// digit-run fallback because an unlabeled run of digits elsewhere on the
// page (a VIN fragment, a phone number) is a plausible false positive.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)stock\s*(?:number|#|no\.?)\s*:?\s*([A-Z0-9\-]{4,})`),
	regexp.MustCompile(`(?i)reference\s*(?:number|#|no\.?)\s*:?\s*([A-Z0-9\-]{4,})`),
	regexp.MustCompile(`\b([A-Z]{1,3}\d{4,})\b`),
	regexp.MustCompile(`\b(\d{5,})\b`),
}

// Report is the §4.8 validation report, persisted to
// run_data/validation.json.
type Report struct {
	MissingFiles    []string        `json:"missingFiles"`
	UnexpectedFiles []string        `json:"unexpectedFiles"`
	Mismatches      []Mismatch      `json:"mismatches"`
	CheckedFiles    int             `json:"checkedFiles"`
	Tracking        models.Tracking `json:"-"`
}

// Mismatch records a PDF whose filename reference disagrees with the
// reference recovered from its own content — the I2 hazard made
// observable after the fact.
type Mismatch struct {
	Filename          string `json:"filename"`
	FilenameReference string `json:"filenameReference"`
	ContentReference  string `json:"contentReference"`
}

// Run validates every PDF under runDir/pdfs against the run's tracking
// document and persists the resulting report to
// run_data/validation.json.
func Run(runDir string) (*Report, error) {
	tracking, err := store.LoadTrackingStore(runDir)
	if err != nil {
		return nil, fmt.Errorf("load tracking store: %w", err)
	}
	snapshot := tracking.Snapshot()

	report, err := validateAgainst(store.PDFDir(runDir), snapshot)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(store.DataDir(runDir), "validation.json")
	if err := store.WriteJSON(path, report); err != nil {
		return nil, fmt.Errorf("persist validation report: %w", err)
	}

	return report, nil
}

func validateAgainst(pdfDir string, tracking models.Tracking) (*Report, error) {
	entries, err := os.ReadDir(pdfDir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return nil, fmt.Errorf("read pdf directory %s: %w", pdfDir, err)
		}
	}

	onDisk := make(map[string]bool, len(entries))
	report := &Report{}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".pdf" {
			continue
		}
		ref := strings.TrimSuffix(entry.Name(), ".pdf")
		onDisk[ref] = true
		report.CheckedFiles++

		contentRef, err := extractReference(filepath.Join(pdfDir, entry.Name()))
		if err != nil {
			// An unreadable PDF is itself a mismatch worth surfacing, not
			// a reason to abort the whole validation pass.
			report.Mismatches = append(report.Mismatches, Mismatch{
				Filename:          entry.Name(),
				FilenameReference: ref,
				ContentReference:  fmt.Sprintf("<unreadable: %v>", err),
			})
			continue
		}
		if contentRef != "" && !strings.EqualFold(contentRef, ref) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Filename:          entry.Name(),
				FilenameReference: ref,
				ContentReference:  contentRef,
			})
		}
	}

	for ref, status := range tracking {
		if status != nil && *status == models.StatusDownloaded && !onDisk[ref] {
			report.MissingFiles = append(report.MissingFiles, ref)
		}
	}
	for ref := range onDisk {
		status, tracked := tracking[ref]
		if !tracked || status == nil || *status != models.StatusDownloaded {
			report.UnexpectedFiles = append(report.UnexpectedFiles, ref)
		}
	}

	return report, nil
}

// extractReference reads the first two pages of path and applies
// referencePatterns in order, returning the first match.
func extractReference(path string) (string, error) {
	text, err := extractFirstPages(path, 2)
	if err != nil {
		return "", err
	}
	return matchReference(text), nil
}

// matchReference applies referencePatterns in order against text and
// returns the first match, or "" if none apply. Split out from
// extractReference so the pattern priority can be tested without a
// real PDF on disk.
func matchReference(text string) string {
	for _, pattern := range referencePatterns {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// extractFirstPages extracts text content from the first maxPages pages
// of the PDF at path via pdfcpu's content extraction.
func extractFirstPages(path string, maxPages int) (string, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return "", fmt.Errorf("read pdf context: %w", err)
	}

	outDir, err := os.MkdirTemp("", "jdpb-validate-*")
	if err != nil {
		return "", fmt.Errorf("create temp output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	pageCount := pdfCtx.PageCount
	if pageCount > maxPages {
		pageCount = maxPages
	}
	pageSelection := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		pageSelection = append(pageSelection, fmt.Sprintf("%d", i))
	}

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(path, outDir, pageSelection, conf); err != nil {
		return "", fmt.Errorf("extract pdf content: %w", err)
	}

	var builder strings.Builder
	files, _ := os.ReadDir(outDir)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, f.Name()))
		if err == nil {
			builder.Write(content)
			builder.WriteString("\n")
		}
	}
	return builder.String(), nil
}
