// Package output serializes consolidated-client snapshots for export to
// downstream tooling (dashboards, spreadsheets, ad-hoc audits).
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
)

// Report is a point-in-time export of the consolidated client table.
type Report struct {
	GeneratedAt time.Time                    `json:"generatedAt"`
	Total       int                          `json:"total"`
	ByBucket    map[domain.StatusBucket]int  `json:"byBucket"`
	Clients     []*domain.ConsolidatedClient `json:"clients"`
}

// WriteOptions configures where the report is written.
type WriteOptions struct {
	FilePath string // Output path (empty = stdout)
}

// BuildReport scans every consolidated client out of the store and returns
// a report sorted by identity key for stable diffs between exports.
func BuildReport(ctx context.Context, st store.Store) (*Report, error) {
	report := &Report{
		GeneratedAt: time.Now().UTC(),
		ByBucket:    make(map[domain.StatusBucket]int),
	}

	err := st.ScanClients(ctx, func(c *domain.ConsolidatedClient) error {
		report.Clients = append(report.Clients, c)
		report.ByBucket[c.Bucket]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan consolidated clients: %w", err)
	}

	sort.Slice(report.Clients, func(i, j int) bool {
		return report.Clients[i].IdentityKey < report.Clients[j].IdentityKey
	})
	report.Total = len(report.Clients)

	return report, nil
}

// WriteReport serializes the report to JSON with 2-space indentation.
func WriteReport(report *Report, w io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report as JSON: %w", err)
	}

	return nil
}

// WriteReportToFile writes the report to file or stdout based on options.
func WriteReportToFile(report *Report, opts WriteOptions) (err error) {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	if opts.FilePath == "" {
		return WriteReport(report, os.Stdout)
	}

	f, err := os.Create(opts.FilePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", opts.FilePath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", opts.FilePath, closeErr)
		}
	}()

	if err = WriteReport(report, f); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", opts.FilePath, err)
	}

	return nil
}
