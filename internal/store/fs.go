// Package store persists the run's durable JSON documents (tracking,
// checkpoint, metrics, validation report) with crash-safe atomic writes,
// and resolves the dated, numerically-discriminated run directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Pbein/JDPBookout/internal/models"
)

// WriteBytes writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partially written
// file and a crash between write and rename leaves the previous version
// (or nothing) rather than a truncated one.
func WriteBytes(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".jdpb-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	_ = os.Chmod(path, 0o644)
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	data = append(data, '\n')
	return WriteBytes(path, data)
}

// ReadJSON loads and unmarshals the JSON document at path into v. It
// returns os.ErrNotExist (wrapped) if the file does not exist, so callers
// can distinguish "fresh run" from a genuine read failure.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ResolveRunDir returns the run directory for today under root, creating
// a numerically-suffixed sibling ("<date> (2)", "<date> (3)", ...) only
// when the base directory already holds a completed prior run. A
// directory with no tracking.json yet, or whose tracking.json still has
// any reference without a terminal status, is reused as-is rather than
// shunted aside: that is the resume path (§8 Scenario 6) — a run killed
// mid-way restarts into the very directory holding its tracking.json and
// checkpoint.json, not into a fresh sibling that has never seen either.
func ResolveRunDir(root string, now time.Time) (string, error) {
	base := filepath.Join(root, now.Format("01-02-2006"))

	complete, err := runComplete(base)
	if err != nil {
		return "", fmt.Errorf("inspect run directory %s: %w", base, err)
	}
	if !complete {
		return base, nil
	}

	for counter := 2; counter <= 100; counter++ {
		candidate := fmt.Sprintf("%s (%d)", base, counter)
		complete, err := runComplete(candidate)
		if err != nil {
			return "", fmt.Errorf("inspect run directory %s: %w", candidate, err)
		}
		if !complete {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("too many runs for %s: more than 100 numbered directories exist", base)
}

// runComplete reports whether dir holds a tracking.json recording at
// least one reference and no pending (nil-status) entries. A missing
// tracking.json, an empty one, or one with any reference still pending
// means dir is either unused or an interrupted run — either way the
// caller should reuse it rather than treat it as occupied.
func runComplete(dir string) (bool, error) {
	var tracking models.Tracking
	err := ReadJSON(filepath.Join(DataDir(dir), "tracking.json"), &tracking)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(tracking) == 0 {
		return false, nil
	}
	for _, status := range tracking {
		if status == nil {
			return false, nil
		}
	}
	return true, nil
}

// PDFDir returns the pdfs/ subfolder of a run directory.
func PDFDir(runDir string) string { return filepath.Join(runDir, "pdfs") }

// DataDir returns the run_data/ subfolder of a run directory.
func DataDir(runDir string) string { return filepath.Join(runDir, "run_data") }

// PDFPath returns the expected output path for a reference's PDF.
func PDFPath(runDir, reference string) string {
	return filepath.Join(PDFDir(runDir), reference+".pdf")
}

// WriteArtifact persists a completed PDF download under the run
// directory's pdfs/ subfolder, rejecting an artifact whose filename
// does not match its reference (the naming invariant a DownloadArtifact
// is supposed to carry) before anything touches disk.
func WriteArtifact(runDir string, artifact models.DownloadArtifact) error {
	want := artifact.Reference + ".pdf"
	if artifact.Filename != want {
		return fmt.Errorf("artifact filename %q does not match reference %q (want %q)",
			artifact.Filename, artifact.Reference, want)
	}
	return WriteBytes(PDFPath(runDir, artifact.Reference), artifact.Bytes)
}
