package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/source"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/source/delimited"
)

// Registry holds all registered readers
type Registry struct {
	readers []source.Reader
}

// New creates a registry with all built-in readers
func New() *Registry {
	return &Registry{
		readers: []source.Reader{
			delimited.NewReader(),
		},
	}
}

// Register adds a custom reader (for extensibility)
func (r *Registry) Register(rd source.Reader) {
	r.readers = append(r.readers, rd)
}

// FindReader returns the best reader for this file.
// Reads first 512 bytes for format detection via header inspection, which is
// sufficient to sniff the delimiter and column headers of branch extracts.
func (r *Registry) FindReader(path string) (source.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		f.Close() // Best-effort close, ignore error since we're already failing
		return nil, fmt.Errorf("failed to read header from %s: %w", path, err)
	}
	// EOF is OK - small extracts may be < 512 bytes. Readers receive
	// whatever was read (0 to 512 bytes) and handle variable header sizes.
	header = header[:n]

	for _, rd := range r.readers {
		if rd.CanRead(path, header) {
			if err := f.Close(); err != nil {
				return nil, fmt.Errorf("failed to close file %s: %w", path, err)
			}
			return rd, nil
		}
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file %s: %w", path, err)
	}
	return nil, fmt.Errorf("no reader found for file: %s", path)
}

// ListReaders returns all registered readers
func (r *Registry) ListReaders() []string {
	names := make([]string, len(r.readers))
	for i, rd := range r.readers {
		names[i] = rd.Name()
	}
	return names
}
