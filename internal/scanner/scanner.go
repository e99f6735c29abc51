package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/source"
)

// Scanner walks a directory tree and finds branch extract files
type Scanner struct {
	rootDir string
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Metadata *source.Metadata
}

// Scan walks the directory tree and finds all extract files
func (s *Scanner) Scan() ([]ScanResult, error) {
	var results []ScanResult

	// Expand ~ to home directory
	rootDir := s.expandHome(s.rootDir)

	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if info.IsDir() {
			return nil
		}

		if !s.isExtractFile(path) {
			return nil
		}

		meta, err := s.extractMetadata(path, rootDir)
		if err != nil {
			return err
		}

		results = append(results, ScanResult{
			Path:     path,
			Metadata: meta,
		})

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return results, nil
}

// isExtractFile checks if file is a known extract format
func (s *Scanner) isExtractFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".csv" || ext == ".tsv" || ext == ".txt"
}

// extractMetadata parses directory structure for the originating branch.
// Path structure: {root}/{branch}/extract.csv
func (s *Scanner) extractMetadata(filePath, rootDir string) (*source.Metadata, error) {
	meta, err := source.NewMetadata(filePath, time.Now())
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		relPath = filePath
	}

	// Branch is the first directory component; files placed directly under
	// the root carry no branch and fall back to the configured default.
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) >= 2 {
		meta.SetBranchID(normalizeBranchID(parts[0]))
	}

	return meta, nil
}

// normalizeBranchID converts a directory name to a stable branch id
// "Lusaka_Main" -> "lusaka-main"
func normalizeBranchID(dirName string) string {
	id := strings.ToLower(dirName)
	id = strings.ReplaceAll(id, "_", "-")
	id = strings.ReplaceAll(id, " ", "-")
	return id
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
