package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trainwatch/trainwatch-agent/pkg/model"
)

// scalarsFileName is the JSON-lines file each rank writes its samples to.
const scalarsFileName = "scalars.jsonl"

// FileBackend appends one JSON line per sample to a scalars file inside a
// per-run, per-rank directory.
type FileBackend struct {
	f  *os.File
	bw *bufio.Writer
}

// RunDir builds the on-disk layout for a run's scalar output:
// <dumpDir>/<YYYYMMDD-HHMM>/rank_<n>. The minute-resolution timestamp
// doubles as a run identifier when none is assigned externally.
func RunDir(dumpDir string, now time.Time, rank int) string {
	return filepath.Join(dumpDir, now.Format("20060102-1504"), fmt.Sprintf("rank_%d", rank))
}

// NewFileBackend creates the run directory and opens the scalars file for
// appending. An unwritable destination is a construction error: it signals
// a configuration problem worth surfacing before the workload proceeds.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: creating run directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, scalarsFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: opening %s: %w", path, err)
	}

	return &FileBackend{
		f:  f,
		bw: bufio.NewWriter(f),
	}, nil
}

// WriteSample appends one JSON line.
func (b *FileBackend) WriteSample(s model.ScalarSample) error {
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sink: encoding sample %q: %w", s.Name, err)
	}
	if _, err := b.bw.Write(line); err != nil {
		return fmt.Errorf("sink: writing sample %q: %w", s.Name, err)
	}
	if err := b.bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("sink: writing sample %q: %w", s.Name, err)
	}
	return nil
}

// Flush pushes buffered lines to the file.
func (b *FileBackend) Flush() error {
	if err := b.bw.Flush(); err != nil {
		return fmt.Errorf("sink: flushing scalars file: %w", err)
	}
	return nil
}

// Close flushes and closes the scalars file.
func (b *FileBackend) Close() error {
	if err := b.bw.Flush(); err != nil {
		_ = b.f.Close()
		return fmt.Errorf("sink: flushing scalars file: %w", err)
	}
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("sink: closing scalars file: %w", err)
	}
	return nil
}
