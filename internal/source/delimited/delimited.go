// Package delimited provides streaming row reading for delimited branch
// extract files (comma, semicolon, tab or pipe separated).
package delimited

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/source"
)

// Reader implements delimited-text reading with a stateless design. The
// struct has no fields because each Open call carries its own state, making
// the reader safe for concurrent use without locking.
type Reader struct{}

var readerInstance = &Reader{}

// NewReader returns the shared delimited reader instance.
func NewReader() *Reader {
	return readerInstance
}

// Name returns the reader identifier.
func (r *Reader) Name() string {
	return "delimited"
}

var delimiters = []rune{',', ';', '\t', '|'}

// CanRead checks extension and sniffs the header line for a usable delimiter.
func (r *Reader) CanRead(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".tsv" && ext != ".txt" {
		return false
	}

	line := firstLine(header)
	if len(line) == 0 {
		return false
	}
	return detectDelimiter(line) != 0
}

// Open reads the header row and returns a streaming RowSource. Rows are
// decoded one at a time; the file is never loaded fully into memory.
func (r *Reader) Open(ctx context.Context, rd io.Reader, meta *source.Metadata) (source.RowSource, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	buf := bufio.NewReader(rd)
	head, err := buf.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("failed to read header%s: %w", fileInfo(meta), err)
	}

	delim := detectDelimiter(firstLine(head))
	if delim == 0 {
		return nil, fmt.Errorf("no recognizable delimiter in header%s", fileInfo(meta))
	}

	cr := csv.NewReader(buf)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header row%s: %w", fileInfo(meta), err)
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	var closer io.Closer
	if c, ok := rd.(io.Closer); ok {
		closer = c
	}

	return &rowSource{cr: cr, columns: columns, closer: closer}, nil
}

// rowSource streams records from one open extract file.
type rowSource struct {
	cr      *csv.Reader
	columns []string
	closer  io.Closer
}

// Next returns the next non-empty row as a column-name → raw-value map.
// Rows with more cells than the header are truncated; short rows leave the
// trailing columns absent from the map.
func (s *rowSource) Next() (map[string]string, error) {
	for {
		record, err := s.cr.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}

		if isEmptyRow(record) {
			continue
		}

		row := make(map[string]string, len(s.columns))
		for i, col := range s.columns {
			if col == "" || i >= len(record) {
				continue
			}
			row[col] = record[i]
		}
		return row, nil
	}
}

// Close releases the underlying file, if the source owns one.
func (s *rowSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func isEmptyRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// detectDelimiter picks the candidate occurring most often in the header
// line. Returns 0 when no candidate appears at all.
func detectDelimiter(line []byte) rune {
	var best rune
	bestCount := 0
	for _, d := range delimiters {
		count := bytes.Count(line, []byte(string(d)))
		if count > bestCount {
			best = d
			bestCount = count
		}
	}
	return best
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}

func fileInfo(meta *source.Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}
