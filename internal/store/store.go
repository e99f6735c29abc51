// Package store defines the persistence contract consumed by the import
// pipeline and the reconciliation rebuilder, with Firestore, SQLite and
// in-memory implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

// ErrNotFound is returned by point lookups for keys with no stored record.
var ErrNotFound = errors.New("record not found")

// KeyError pairs a failing identity key with its write error.
type KeyError struct {
	Key string
	Err error
}

// BulkResult reports a bulk write's partial outcome: writes execute
// unordered, so one failing key never blocks the others.
type BulkResult struct {
	Merged int
	Failed []KeyError
}

// ClientStats is the read-only dashboard aggregate.
type ClientStats struct {
	Total    int                         `json:"total"`
	ByBucket map[domain.StatusBucket]int `json:"byBucket"`
}

// Store is the persistence contract. MergeClients is the conflict-resolving
// upsert engine's primitive: each incoming record is merged into the stored
// record for its identity key in one atomic operation (no separate
// read-then-write round trip visible to other writers), so concurrent
// imports touching the same key cannot interleave into a half-applied state.
type Store interface {
	// MergeClients applies the effective-date merge rule for each incoming
	// record. The returned error is non-nil only when the bulk call itself
	// failed (every key counts as failed); per-key failures are reported in
	// BulkResult.Failed.
	MergeClients(ctx context.Context, incoming []*domain.ConsolidatedClient) (*BulkResult, error)

	// PutClients writes records unconditionally, overwriting whatever is
	// stored. Used by the rebuilder's authoritative recompute.
	PutClients(ctx context.Context, clients []*domain.ConsolidatedClient) (*BulkResult, error)

	// AppendLedger appends raw ledger rows; rows are immutable once written.
	AppendLedger(ctx context.Context, records []*domain.LedgerRecord) error

	// ScanLedger streams every raw ledger row through fn in storage order.
	// A non-nil error from fn aborts the scan.
	ScanLedger(ctx context.Context, fn func(*domain.LedgerRecord) error) error

	// ScanClients streams every consolidated client through fn.
	ScanClients(ctx context.Context, fn func(*domain.ConsolidatedClient) error) error

	// GetClient returns the consolidated record for key, or ErrNotFound.
	GetClient(ctx context.Context, key string) (*domain.ConsolidatedClient, error)

	// DeleteClient removes a consolidated record. Deleting an absent key is
	// not an error.
	DeleteClient(ctx context.Context, key string) error

	// ClientStats returns the total client count and the count per bucket.
	ClientStats(ctx context.Context) (*ClientStats, error)

	Close() error
}

// RunStatus tracks an import run's lifecycle.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusError      RunStatus = "error"
)

// ImportRun records one import execution for operators.
type ImportRun struct {
	ID          string     `json:"id"`
	FileName    string     `json:"fileName"`
	BranchID    string     `json:"branchId,omitempty"`
	Status      RunStatus  `json:"status"`
	TotalMerged int        `json:"totalMerged"`
	TotalErrors int        `json:"totalErrors"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// RunStore persists import runs. All Store implementations in this package
// also implement RunStore.
type RunStore interface {
	CreateRun(ctx context.Context, run *ImportRun) error
	UpdateRun(ctx context.Context, run *ImportRun) error
	GetRun(ctx context.Context, id string) (*ImportRun, error)
	ListRuns(ctx context.Context, limit int) ([]*ImportRun, error)
}
