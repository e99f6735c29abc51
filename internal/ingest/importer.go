// Package ingest drives the streaming import: rows are pulled from a
// source, normalized, deduplicated per batch and merged into the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/dedup"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/normalize"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/source"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
)

// DefaultBatchSize bounds how many rows are held in memory before a flush.
const DefaultBatchSize = 200

// Progress is reported after every flushed batch.
type Progress struct {
	Processed int `json:"processed"`
	Merged    int `json:"merged"`
	Errors    int `json:"errors"`
}

// Result summarizes a completed run. Merged and Errors count identity keys
// after intra-batch dedup, not raw rows.
type Result struct {
	Processed int  `json:"processed"`
	Merged    int  `json:"merged"`
	Errors    int  `json:"errors"`
	Success   bool `json:"success"`
}

// Options configures an Importer.
type Options struct {
	// BatchSize is the flush threshold; DefaultBatchSize when zero.
	BatchSize int
	// OnProgress, when set, is invoked after each flush.
	OnProgress func(Progress)
	// Verbose logs every dropped row and failed key instead of totals only.
	Verbose bool
}

// Importer is the batch ingestor. It pulls rows at its own pace, so a slow
// store applies backpressure to the source instead of growing a queue.
type Importer struct {
	store      store.Store
	batchSize  int
	onProgress func(Progress)
	verbose    bool
}

// New creates an Importer writing to st.
func New(st store.Store, opts Options) *Importer {
	size := opts.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Importer{
		store:      st,
		batchSize:  size,
		onProgress: opts.OnProgress,
		verbose:    opts.Verbose,
	}
}

// Run consumes src until EOF. Rows that cannot be normalized and keys that
// fail to write are counted and skipped; only a failing source aborts the
// run, and batches flushed before the abort stay written.
func (imp *Importer) Run(ctx context.Context, src source.RowSource, norm *normalize.Normalizer) (*Result, error) {
	res := &Result{}
	batch := make([]*domain.LedgerRecord, 0, imp.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		imp.flushBatch(ctx, batch, res)
		batch = batch[:0]
		if imp.onProgress != nil {
			imp.onProgress(Progress{Processed: res.Processed, Merged: res.Merged, Errors: res.Errors})
		}
		return ctx.Err()
	}

	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Success = false
			return res, fmt.Errorf("row source failed after %d rows: %w", res.Processed, err)
		}

		res.Processed++
		rec, err := norm.Normalize(row)
		if err != nil {
			res.Errors++
			if imp.verbose || !errors.Is(err, normalize.ErrNoIdentity) {
				log.Printf("WARN: skipping row %d: %v", res.Processed, err)
			}
			continue
		}

		batch = append(batch, rec)
		if len(batch) >= imp.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}

	if err := flush(); err != nil {
		return res, err
	}

	res.Success = res.Errors == 0
	return res, nil
}

// flushBatch collapses intra-batch duplicates, appends the surviving rows to
// the ledger and merges them into the consolidated collection. Write
// failures are absorbed into the error counter so the run keeps going.
func (imp *Importer) flushBatch(ctx context.Context, batch []*domain.LedgerRecord, res *Result) {
	collapsed := dedup.Collapse(batch)

	if err := imp.store.AppendLedger(ctx, collapsed); err != nil {
		log.Printf("ERROR: ledger append failed for batch of %d: %v", len(collapsed), err)
		res.Errors += len(collapsed)
		return
	}

	clients := make([]*domain.ConsolidatedClient, len(collapsed))
	for i, rec := range collapsed {
		clients[i] = rec.Client()
	}

	bulk, err := imp.store.MergeClients(ctx, clients)
	if err != nil {
		log.Printf("ERROR: merge failed for batch of %d: %v", len(clients), err)
		res.Errors += len(clients)
		return
	}

	res.Merged += bulk.Merged
	res.Errors += len(bulk.Failed)
	for _, f := range bulk.Failed {
		log.Printf("ERROR: merge failed for %s: %v", f.Key, f.Err)
	}
}
