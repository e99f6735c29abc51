// Package dedup collapses rows that share an identity key within one batch,
// so the store never sees two competing writes for the same borrower in a
// single flush.
package dedup

import "github.com/rumor-ml/commons.systems/loanmerge/internal/domain"

// Collapse keeps the best row per identity key: the later effective date
// wins, with higher balance as tie-break. Rows without an identity key are
// dropped. First-sighting order of the surviving keys is preserved.
func Collapse(batch []*domain.LedgerRecord) []*domain.LedgerRecord {
	kept := make(map[string]int, len(batch))
	out := make([]*domain.LedgerRecord, 0, len(batch))

	for _, rec := range batch {
		if rec == nil || rec.IdentityKey == "" {
			continue
		}
		i, seen := kept[rec.IdentityKey]
		if !seen {
			kept[rec.IdentityKey] = len(out)
			out = append(out, rec)
			continue
		}
		if wins(rec, out[i]) {
			out[i] = rec
		}
	}
	return out
}

// wins reports whether challenger beats the currently kept row.
func wins(challenger, kept *domain.LedgerRecord) bool {
	if challenger.EffectiveDate.After(kept.EffectiveDate) {
		return true
	}
	if kept.EffectiveDate.After(challenger.EffectiveDate) {
		return false
	}
	return challenger.Balance > kept.Balance
}
