// Package domain defines the ledger record and consolidated client types
// shared by the import pipeline and the reconciliation rebuilder.
package domain

import (
	"strings"
	"time"
)

// StatusBucket is the coarse loan-state grouping shown on dashboards.
type StatusBucket string

const (
	BucketBalance  StatusBucket = "balance"
	BucketCleared  StatusBucket = "cleared"
	BucketExtended StatusBucket = "extended"
)

var validBuckets = map[StatusBucket]struct{}{
	BucketBalance: {}, BucketCleared: {}, BucketExtended: {},
}

// ValidateBucket checks if the bucket is one of the known values.
func ValidateBucket(b StatusBucket) bool {
	_, ok := validBuckets[b]
	return ok
}

// Status label vocabularies. Branch extracts are free-text, so matching is
// substring-based and case-insensitive rather than an exact enum.
var (
	clearedVocab  = []string{"fully paid", "paid", "settled", "closed", "cleared"}
	writeOffVocab = []string{"write-off", "write off", "written off", "writeoff"}
	extendVocab   = []string{"restructur", "reschedul", "rolled over", "rollover", "extend"}
)

func matchesAny(status string, vocab []string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	for _, v := range vocab {
		if strings.Contains(s, v) {
			return true
		}
	}
	return false
}

// IsCleared reports whether the status label means the loan is paid off.
func IsCleared(status string) bool { return matchesAny(status, clearedVocab) }

// IsWriteOff reports whether the status label means the loan was written off.
func IsWriteOff(status string) bool { return matchesAny(status, writeOffVocab) }

// IsExtended reports whether the status label means the loan was
// restructured or rolled over.
func IsExtended(status string) bool { return matchesAny(status, extendVocab) }

// BucketFor maps a raw status label to its bucket. Extension vocabulary
// takes precedence over cleared vocabulary ("restructured - paid fees"
// still counts as extended).
func BucketFor(status string) StatusBucket {
	switch {
	case IsExtended(status):
		return BucketExtended
	case IsCleared(status):
		return BucketCleared
	default:
		return BucketBalance
	}
}

// LedgerRecord is one normalized loan/account row from a branch extract.
// IdentityKey, Balance, Bucket and EffectiveDate are derived by the
// normalizer; the remaining fields come straight from the source row.
type LedgerRecord struct {
	IdentityKey string `json:"identityKey"`

	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Address     string `json:"address,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"` // YYYY-MM-DD or empty

	Status          string  `json:"status,omitempty"`
	Principal       float64 `json:"principal"`
	InterestBalance float64 `json:"interestBalance"`
	AmortizationDue float64 `json:"amortizationDue"`
	Penalty         float64 `json:"penalty"`
	NextInstallment float64 `json:"nextInstallment"`
	NextDueDate     string  `json:"nextDueDate,omitempty"` // YYYY-MM-DD or empty
	BranchID        string  `json:"branchId,omitempty"`

	Balance       float64      `json:"balance"`
	Bucket        StatusBucket `json:"statusBucket"`
	EffectiveDate time.Time    `json:"effectiveDate"`
	ImportedAt    time.Time    `json:"importedAt"`
}

// UnpaidAmount is the canonical per-row outstanding figure used by the
// rebuilder: amortization due plus interest balance plus penalty, or zero
// when the row's status says the loan is paid or written off. The same
// formula backs the normalizer's balance fallback chain.
func (r *LedgerRecord) UnpaidAmount() float64 {
	if IsCleared(r.Status) || IsWriteOff(r.Status) {
		return 0
	}
	return r.AmortizationDue + r.InterestBalance + r.Penalty
}

// ConsolidatedClient is the single canonical row per resolved borrower
// identity. Business fields only move forward in effective-date order;
// LastImportedAt advances on every touch.
type ConsolidatedClient struct {
	IdentityKey string `json:"identityKey"`

	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
	Address     string `json:"address,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`

	Status  string       `json:"status,omitempty"`
	Bucket  StatusBucket `json:"statusBucket"`
	Balance float64      `json:"balance"`

	EffectiveDate  time.Time `json:"effectiveDate"`
	LastImportedAt time.Time `json:"lastImportedAt"`
}

// Client returns the consolidated view of a single ledger record, the shape
// handed to the upsert engine.
func (r *LedgerRecord) Client() *ConsolidatedClient {
	return &ConsolidatedClient{
		IdentityKey:   r.IdentityKey,
		Name:          r.Name,
		Phone:         r.Phone,
		Email:         r.Email,
		Address:       r.Address,
		DateOfBirth:   r.DateOfBirth,
		Status:        r.Status,
		Bucket:        r.Bucket,
		Balance:       r.Balance,
		EffectiveDate: r.EffectiveDate,
	}
}
