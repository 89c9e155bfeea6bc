// Package store persists finished runs: one JSON document per run and a
// SQLite database of runs and outcomes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kingrea/magnitude-protocol/internal/session"
)

// ErrRunExists is returned when a sink already holds the run.
var ErrRunExists = fmt.Errorf("store: %w", session.ErrAlreadySaved)

// FileSink writes each run to <dir>/<run id>.json.
type FileSink struct {
	dir string
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Name labels the sink in warnings.
func (s *FileSink) Name() string { return "json " + s.dir }

// Path returns where the run with runID is written.
func (s *FileSink) Path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save writes the result. An existing document for the same run is left
// untouched and ErrRunExists is returned.
func (s *FileSink) Save(ctx context.Context, r session.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(s.dir) == "" {
		return fmt.Errorf("store: json dir is required")
	}
	if strings.TrimSpace(r.RunID) == "" || strings.ContainsAny(r.RunID, `/\`) {
		return fmt.Errorf("store: invalid run id %q", r.RunID)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: ensure json dir: %w", err)
	}
	encoded, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode result: %w", err)
	}
	file, err := os.OpenFile(s.Path(r.RunID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrRunExists
		}
		return fmt.Errorf("store: create result file: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("store: write result file: %w", err)
	}
	return file.Close()
}

// LoadResult reads a document written by FileSink.
func LoadResult(path string) (session.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Result{}, fmt.Errorf("store: read result: %w", err)
	}
	var r session.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return session.Result{}, fmt.Errorf("store: decode result %s: %w", path, err)
	}
	return r, nil
}
