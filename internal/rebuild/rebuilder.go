// Package rebuild recomputes the consolidated client collection from the
// raw ledger. It is the repair path: when the incremental merge has drifted
// or derivation rules changed, a rebuild replaces every consolidated row
// with one computed from first principles.
package rebuild

import (
	"context"
	"fmt"
	"log"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/validate"
)

// DefaultFlushSize is the number of rebuilt keys written per bulk call.
const DefaultFlushSize = 1000

// Result summarizes a rebuild pass.
type Result struct {
	LedgerRows int `json:"ledgerRows"`
	Clients    int `json:"clients"`
	Purged     int `json:"purged"`
	Errors     int `json:"errors"`
}

// Options configures a Rebuilder.
type Options struct {
	// FlushSize caps how many rebuilt keys are buffered before a bulk
	// write; DefaultFlushSize when zero.
	FlushSize int
	// PurgeMalformed enables the pre-pass that deletes consolidated rows
	// whose identity key could not have been produced by the current
	// derivation rules.
	PurgeMalformed bool
}

// Rebuilder scans the full ledger and overwrites consolidated clients.
type Rebuilder struct {
	store     store.Store
	flushSize int
	purge     bool
}

// New creates a Rebuilder over st.
func New(st store.Store, opts Options) *Rebuilder {
	size := opts.FlushSize
	if size <= 0 {
		size = DefaultFlushSize
	}
	return &Rebuilder{store: st, flushSize: size, purge: opts.PurgeMalformed}
}

// Run executes the rebuild. The ledger is streamed through a cursor, never
// loaded whole; only the per-key accumulators are held in memory.
func (r *Rebuilder) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	if r.purge {
		purged, err := r.purgeMalformed(ctx)
		if err != nil {
			return res, err
		}
		res.Purged = purged
	}

	acc := make(map[string]*domain.ConsolidatedClient)
	sums := make(map[string]float64)

	err := r.store.ScanLedger(ctx, func(rec *domain.LedgerRecord) error {
		res.LedgerRows++

		c, ok := acc[rec.IdentityKey]
		if !ok {
			c = &domain.ConsolidatedClient{IdentityKey: rec.IdentityKey}
			acc[rec.IdentityKey] = c
		}

		// First non-empty descriptive value wins; later statements rarely
		// carry better contact data than the one that introduced the key.
		if c.Name == "" {
			c.Name = rec.Name
		}
		if c.Phone == "" {
			c.Phone = rec.Phone
		}
		if c.Email == "" {
			c.Email = rec.Email
		}
		if c.Address == "" {
			c.Address = rec.Address
		}
		if c.DateOfBirth == "" {
			c.DateOfBirth = rec.DateOfBirth
		}
		if c.Status == "" {
			c.Status = rec.Status
		}

		sums[rec.IdentityKey] += rec.UnpaidAmount()

		// The latest import timestamp stands in for both the effective date
		// and the provenance stamp of the rebuilt row.
		if rec.ImportedAt.After(c.LastImportedAt) {
			c.LastImportedAt = rec.ImportedAt
			c.EffectiveDate = rec.ImportedAt
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("ledger scan failed: %w", err)
	}

	batch := make([]*domain.ConsolidatedClient, 0, r.flushSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		bulk, err := r.store.PutClients(ctx, batch)
		if err != nil {
			return fmt.Errorf("rebuild write failed: %w", err)
		}
		res.Clients += bulk.Merged
		res.Errors += len(bulk.Failed)
		for _, f := range bulk.Failed {
			log.Printf("ERROR: rebuild write failed for %s: %v", f.Key, f.Err)
		}
		batch = batch[:0]
		return nil
	}

	for key, c := range acc {
		c.Balance = sums[key]
		if c.Balance > 0 {
			c.Bucket = domain.BucketBalance
		} else {
			c.Bucket = domain.BucketCleared
		}

		batch = append(batch, c)
		if len(batch) >= r.flushSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

// purgeMalformed deletes consolidated rows whose identity key fails
// structural validation. Keys are collected first so the scan cursor is not
// invalidated by concurrent deletes.
func (r *Rebuilder) purgeMalformed(ctx context.Context) (int, error) {
	var bad []string
	err := r.store.ScanClients(ctx, func(c *domain.ConsolidatedClient) error {
		if errs := validate.Key(c.IdentityKey); len(errs) > 0 {
			log.Printf("WARN: purging malformed client %s: %v", c.IdentityKey, errs[0])
			bad = append(bad, c.IdentityKey)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge scan failed: %w", err)
	}

	for _, key := range bad {
		if err := r.store.DeleteClient(ctx, key); err != nil {
			return 0, fmt.Errorf("purge delete failed for %s: %w", key, err)
		}
	}
	return len(bad), nil
}
