package domain

import "time"

// Merge applies the effective-date conflict rule for one identity key.
//
// Business fields are taken from incoming only when its effective date is
// strictly newer than the stored one; otherwise the stored value is kept,
// except that fields the stored record never had a value for are filled
// from incoming. LastImportedAt is always set to now, so operators can see
// when a client was last touched even when nothing changed.
//
// A nil existing means first sighting of the key: the record is created
// fully populated from incoming (the stored effective date is treated as
// the epoch, so the first write is always "newer").
//
// Merge is pure and commutative in outcome: for two records sharing a key,
// applying them in either order yields the same business fields.
func Merge(existing, incoming *ConsolidatedClient, now time.Time) *ConsolidatedClient {
	if existing == nil {
		out := *incoming
		out.LastImportedAt = now
		return &out
	}

	needsUpdate := incoming.EffectiveDate.After(existing.EffectiveDate)

	out := &ConsolidatedClient{
		IdentityKey:    existing.IdentityKey,
		Name:           pick(needsUpdate, incoming.Name, existing.Name),
		Phone:          pick(needsUpdate, incoming.Phone, existing.Phone),
		Email:          pick(needsUpdate, incoming.Email, existing.Email),
		Address:        pick(needsUpdate, incoming.Address, existing.Address),
		DateOfBirth:    pick(needsUpdate, incoming.DateOfBirth, existing.DateOfBirth),
		Status:         pick(needsUpdate, incoming.Status, existing.Status),
		LastImportedAt: now,
	}

	if needsUpdate {
		out.Bucket = incoming.Bucket
		out.Balance = incoming.Balance
		out.EffectiveDate = incoming.EffectiveDate
	} else {
		out.Bucket = existing.Bucket
		if out.Bucket == "" {
			out.Bucket = incoming.Bucket
		}
		out.Balance = existing.Balance
		out.EffectiveDate = existing.EffectiveDate
	}

	return out
}

// pick resolves one string field: incoming wins when the update is needed,
// the stored value is kept when present, and incoming backfills the rest.
func pick(needsUpdate bool, incoming, existing string) string {
	if needsUpdate {
		return incoming
	}
	if existing != "" {
		return existing
	}
	return incoming
}
