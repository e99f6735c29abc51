// Package source defines the pull-based record source contract consumed by
// the import pipeline. The pipeline controls pacing: it calls Next and fully
// processes the returned row (including any batch flush the row triggers)
// before asking for another, so a source never outruns the consumer.
package source

import (
	"context"
	"fmt"
	"io"
	"time"
)

// RowSource yields one raw row at a time as a field-name → raw-value map.
// Next returns io.EOF once the source is exhausted; any other error is a
// source-level failure and fatal to the run.
type RowSource interface {
	Next() (map[string]string, error)
	Close() error
}

// Reader is the strategy interface for extract file formats.
type Reader interface {
	// Name returns the reader identifier (e.g., "delimited")
	Name() string

	// CanRead checks if this reader can handle the file, based on the path
	// and the first bytes of content
	CanRead(path string, header []byte) bool

	// Open prepares a streaming RowSource over r
	Open(ctx context.Context, r io.Reader, meta *Metadata) (RowSource, error)
}

// Metadata carries context about the extract file being read.
// Path structure: {root}/{branch}/file.csv — the branch id is inferred from
// the directory by the scanner. An empty BranchID is not an error; the
// normalizer falls back to the configured default branch.
type Metadata struct {
	filePath   string
	branchID   string
	detectedAt time.Time
}

// NewMetadata creates a Metadata instance with validated required fields.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{filePath: filePath, detectedAt: detectedAt}, nil
}

// FilePath returns the extract file path.
func (m *Metadata) FilePath() string { return m.filePath }

// BranchID returns the originating branch id inferred from the directory
// structure, or empty when the path didn't match.
func (m *Metadata) BranchID() string { return m.branchID }

// DetectedAt returns when the file was discovered.
func (m *Metadata) DetectedAt() time.Time { return m.detectedAt }

// SetBranchID sets the originating branch id.
func (m *Metadata) SetBranchID(branchID string) { m.branchID = branchID }

// Rows is an in-memory RowSource used by tests and by the rebuild of small
// uploads that are already resident.
type Rows struct {
	rows []map[string]string
	pos  int
	err  error // returned after the backing rows are exhausted
}

// NewRows creates a RowSource over a fixed slice of rows.
func NewRows(rows []map[string]string) *Rows {
	return &Rows{rows: rows}
}

// NewRowsWithError creates a RowSource that fails with err after yielding
// its rows, simulating a mid-stream source failure.
func NewRowsWithError(rows []map[string]string, err error) *Rows {
	return &Rows{rows: rows, err: err}
}

// Next implements RowSource.
func (s *Rows) Next() (map[string]string, error) {
	if s.pos >= len(s.rows) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

// Close implements RowSource.
func (s *Rows) Close() error { return nil }
