package domain

import (
	"testing"
	"time"
)

var (
	t0  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1  = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	now = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
)

func client(key string, effective time.Time, balance float64) *ConsolidatedClient {
	return &ConsolidatedClient{
		IdentityKey:   key,
		Name:          "Agnes Mwale",
		Phone:         "978559684",
		Status:        "Current",
		Bucket:        BucketBalance,
		Balance:       balance,
		EffectiveDate: effective,
	}
}

func TestMerge_FirstWritePopulatesAllFields(t *testing.T) {
	incoming := client("phone:978559684", t0, 1500)
	incoming.Email = "agnes@example.com"
	incoming.Address = "Plot 12, Kitwe"
	incoming.DateOfBirth = "1988-04-02"

	got := Merge(nil, incoming, now)

	if got.Name != incoming.Name || got.Phone != incoming.Phone ||
		got.Email != incoming.Email || got.Address != incoming.Address ||
		got.DateOfBirth != incoming.DateOfBirth {
		t.Errorf("first merge did not populate all fields: %+v", got)
	}
	if got.Balance != 1500 {
		t.Errorf("Balance = %v, want 1500", got.Balance)
	}
	if !got.EffectiveDate.Equal(t0) {
		t.Errorf("EffectiveDate = %v, want %v", got.EffectiveDate, t0)
	}
	if !got.LastImportedAt.Equal(now) {
		t.Errorf("LastImportedAt = %v, want %v", got.LastImportedAt, now)
	}
}

func TestMerge_NewerEffectiveDateWins(t *testing.T) {
	older := client("k", t0, 500)
	newer := client("k", t1, 300)
	newer.Status = "Restructured"
	newer.Bucket = BucketExtended

	got := Merge(older, newer, now)

	if got.Balance != 300 {
		t.Errorf("Balance = %v, want 300 (newer record)", got.Balance)
	}
	if got.Bucket != BucketExtended {
		t.Errorf("Bucket = %s, want %s", got.Bucket, BucketExtended)
	}
	if !got.EffectiveDate.Equal(t1) {
		t.Errorf("EffectiveDate = %v, want %v", got.EffectiveDate, t1)
	}
}

func TestMerge_OlderRecordDoesNotOverwrite(t *testing.T) {
	stored := client("k", t1, 300)
	stale := client("k", t0, 500)
	stale.Name = "A. Mwale (old spelling)"

	got := Merge(stored, stale, now)

	if got.Balance != 300 {
		t.Errorf("Balance = %v, want 300 (stored record)", got.Balance)
	}
	if got.Name != stored.Name {
		t.Errorf("Name = %q, want stored %q", got.Name, stored.Name)
	}
	if !got.EffectiveDate.Equal(t1) {
		t.Errorf("EffectiveDate = %v, want stored %v", got.EffectiveDate, t1)
	}
	if !got.LastImportedAt.Equal(now) {
		t.Error("LastImportedAt must advance even when business fields do not")
	}
}

// Merging [A,B] and [B,A] must converge to the same business fields.
func TestMerge_OrderIndependent(t *testing.T) {
	a := client("k", t0, 500)
	b := client("k", t1, 300)
	b.Email = "agnes@example.com"

	ab := Merge(Merge(nil, a, now), b, now.Add(time.Hour))
	ba := Merge(Merge(nil, b, now), a, now.Add(time.Hour))

	if ab.Balance != ba.Balance || ab.Email != ba.Email || ab.Status != ba.Status {
		t.Errorf("merge order changed business fields:\n[A,B]=%+v\n[B,A]=%+v", ab, ba)
	}
	if !ab.EffectiveDate.Equal(ba.EffectiveDate) {
		t.Errorf("effective dates diverge: %v vs %v", ab.EffectiveDate, ba.EffectiveDate)
	}
	if ab.Balance != 300 {
		t.Errorf("Balance = %v, want newer record's 300", ab.Balance)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	rec := client("k", t1, 300)

	once := Merge(nil, rec, now)
	twice := Merge(once, rec, now.Add(time.Hour))

	if twice.Balance != once.Balance || twice.Name != once.Name ||
		!twice.EffectiveDate.Equal(once.EffectiveDate) {
		t.Errorf("re-merging identical record changed business fields:\nonce=%+v\ntwice=%+v", once, twice)
	}
	if !twice.LastImportedAt.After(once.LastImportedAt) {
		t.Error("LastImportedAt should advance on the second merge")
	}
}

// A stale row may still backfill fields the stored record never had.
func TestMerge_StaleRowBackfillsEmptyFields(t *testing.T) {
	stored := client("k", t1, 300)
	stored.Email = ""
	stale := client("k", t0, 500)
	stale.Email = "agnes@example.com"

	got := Merge(stored, stale, now)

	if got.Email != "agnes@example.com" {
		t.Errorf("Email = %q, want backfilled value", got.Email)
	}
	if got.Balance != 300 {
		t.Errorf("Balance = %v, want 300 (backfill must not touch populated fields)", got.Balance)
	}
}
