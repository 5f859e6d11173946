// Package storage writes the per-cycle view documents to disk.
//
// Every document is fully replaced on each write: the JSON is written to a
// temporary file beside the destination and renamed into place, so a reader
// polling the path sees either the previous or the new document. The three
// views are written independently; a failure on one does not stop the
// others, which means a partial failure can leave them from different
// cycles.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rewired-gh/steamwatch/internal/logger"
	"github.com/rewired-gh/steamwatch/internal/views"
)

// Default file names read by the dashboard.
const (
	DefaultSnapshotFile  = "latest_games.json"
	DefaultDiscountsFile = "discounts.json"
	DefaultPlayersFile   = "player_stats.json"

	tempSuffix = ".tmp"
)

// Files names the destination of each view inside the data directory.
type Files struct {
	Snapshot  string
	Discounts string
	Players   string
}

// DefaultFiles returns the file names the dashboard expects.
func DefaultFiles() Files {
	return Files{
		Snapshot:  DefaultSnapshotFile,
		Discounts: DefaultDiscountsFile,
		Players:   DefaultPlayersFile,
	}
}

// WriteError reports a failed write of one view.
type WriteError struct {
	View string
	Path string
	Err  error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("write %s view to %s: %v", e.View, e.Path, e.Err)
}

func (e WriteError) Unwrap() error {
	return e.Err
}

// Writer persists view documents into a data directory.
type Writer struct {
	dataDir         string
	files           Files
	filePermissions os.FileMode
	dirPermissions  os.FileMode
}

// NewWriter creates a Writer. Empty file names fall back to the defaults.
// If dataDir is empty, uses OS-appropriate tmp directory.
func NewWriter(dataDir string, files Files, filePermissions, dirPermissions os.FileMode) *Writer {
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "steamwatch")
	}
	defaults := DefaultFiles()
	if files.Snapshot == "" {
		files.Snapshot = defaults.Snapshot
	}
	if files.Discounts == "" {
		files.Discounts = defaults.Discounts
	}
	if files.Players == "" {
		files.Players = defaults.Players
	}
	if filePermissions == 0 {
		filePermissions = 0o644
	}
	if dirPermissions == 0 {
		dirPermissions = 0o755
	}

	return &Writer{
		dataDir:         dataDir,
		files:           files,
		filePermissions: filePermissions,
		dirPermissions:  dirPermissions,
	}
}

// DataDir returns the directory documents are written to.
func (w *Writer) DataDir() string {
	return w.dataDir
}

// Path returns the full destination path for a file name.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dataDir, name)
}

// WriteViews writes all three documents, attempting each one even if an
// earlier write failed. It returns one WriteError per failed view.
func (w *Writer) WriteViews(set views.Set) []WriteError {
	targets := []struct {
		view string
		name string
		doc  any
	}{
		{"snapshot", w.files.Snapshot, set.Snapshot},
		{"discounts", w.files.Discounts, set.Discounts},
		{"players", w.files.Players, set.Players},
	}

	var errs []WriteError
	for _, t := range targets {
		path := w.Path(t.name)
		if err := w.WriteJSON(path, t.doc); err != nil {
			errs = append(errs, WriteError{View: t.view, Path: path, Err: err})
			continue
		}
		logger.Debug("Saved %s view to %s", t.view, path)
	}
	logger.Info("Saved %d/%d views to %s", len(targets)-len(errs), len(targets), w.dataDir)
	return errs
}

// WriteJSON replaces the file at path with the indented JSON encoding of v.
func (w *Writer) WriteJSON(path string, v any) error {
	// Create data directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, w.dirPermissions); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temporary file first (atomic write)
	tempPath := path + tempSuffix
	if err := os.WriteFile(tempPath, jsonData, w.filePermissions); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	// Rename temp file to actual file
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath) // Clean up temp file on rename failure
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// CleanupTemp removes temporary files left behind by a crash mid-write.
func (w *Writer) CleanupTemp() error {
	for _, name := range []string{w.files.Snapshot, w.files.Discounts, w.files.Players} {
		tempPath := w.Path(name) + tempSuffix
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale temp file %s: %w", tempPath, err)
		}
	}
	return nil
}
