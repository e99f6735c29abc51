package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func TestMemoryMergeClients(t *testing.T) {
	ctx := context.Background()
	clock := day(20)
	m := NewMemory().WithNow(func() time.Time { return clock })

	res, err := m.MergeClients(ctx, []*domain.ConsolidatedClient{{
		IdentityKey:   "phone:978559684",
		Name:          "agnes mwale",
		Status:        "Current",
		Bucket:        domain.BucketBalance,
		Balance:       450,
		EffectiveDate: day(10),
	}})
	if err != nil {
		t.Fatalf("MergeClients() error = %v", err)
	}
	if res.Merged != 1 || len(res.Failed) != 0 {
		t.Fatalf("MergeClients() = %+v, want 1 merged, 0 failed", res)
	}

	// A stale row must not move business fields, but provenance advances.
	clock = day(25)
	_, err = m.MergeClients(ctx, []*domain.ConsolidatedClient{{
		IdentityKey:   "phone:978559684",
		Name:          "A. Mwale",
		Status:        "Paid",
		Bucket:        domain.BucketCleared,
		Balance:       0,
		EffectiveDate: day(5),
	}})
	if err != nil {
		t.Fatalf("MergeClients() error = %v", err)
	}

	got, err := m.GetClient(ctx, "phone:978559684")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.Balance != 450 || got.Bucket != domain.BucketBalance {
		t.Errorf("stale merge moved business fields: balance=%v bucket=%v", got.Balance, got.Bucket)
	}
	if !got.EffectiveDate.Equal(day(10)) {
		t.Errorf("EffectiveDate = %v, want %v", got.EffectiveDate, day(10))
	}
	if !got.LastImportedAt.Equal(day(25)) {
		t.Errorf("LastImportedAt = %v, want %v", got.LastImportedAt, day(25))
	}

	// A strictly newer row replaces them.
	_, err = m.MergeClients(ctx, []*domain.ConsolidatedClient{{
		IdentityKey:   "phone:978559684",
		Name:          "Agnes Mwale",
		Status:        "Paid",
		Bucket:        domain.BucketCleared,
		Balance:       0,
		EffectiveDate: day(15),
	}})
	if err != nil {
		t.Fatalf("MergeClients() error = %v", err)
	}
	got, _ = m.GetClient(ctx, "phone:978559684")
	if got.Balance != 0 || got.Bucket != domain.BucketCleared || got.Status != "Paid" {
		t.Errorf("newer merge did not apply: %+v", got)
	}
}

func TestMemoryMergeClientsFailKey(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("contention")
	m := NewMemory().FailKey("email:bad@example.com", boom)

	res, err := m.MergeClients(ctx, []*domain.ConsolidatedClient{
		{IdentityKey: "email:ok@example.com", EffectiveDate: day(1)},
		{IdentityKey: "email:bad@example.com", EffectiveDate: day(1)},
	})
	if err != nil {
		t.Fatalf("MergeClients() error = %v", err)
	}
	if res.Merged != 1 {
		t.Errorf("Merged = %d, want 1", res.Merged)
	}
	if len(res.Failed) != 1 || res.Failed[0].Key != "email:bad@example.com" {
		t.Fatalf("Failed = %+v, want the injected key", res.Failed)
	}
	if !errors.Is(res.Failed[0].Err, boom) {
		t.Errorf("Failed err = %v, want %v", res.Failed[0].Err, boom)
	}

	// The healthy key still landed.
	if _, err := m.GetClient(ctx, "email:ok@example.com"); err != nil {
		t.Errorf("GetClient(ok) error = %v", err)
	}
	if _, err := m.GetClient(ctx, "email:bad@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetClient(bad) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryMergeClientsFailBulk(t *testing.T) {
	boom := errors.New("store unavailable")
	m := NewMemory().FailBulk(boom)

	res, err := m.MergeClients(context.Background(), []*domain.ConsolidatedClient{
		{IdentityKey: "phone:978559684"},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("MergeClients() error = %v, want %v", err, boom)
	}
	if res != nil {
		t.Errorf("MergeClients() result = %+v, want nil on bulk failure", res)
	}
}

func TestMemoryDeleteClientAbsentKey(t *testing.T) {
	m := NewMemory()
	if err := m.DeleteClient(context.Background(), "phone:nope"); err != nil {
		t.Errorf("DeleteClient(absent) error = %v, want nil", err)
	}
}

func TestMemoryClientStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.PutClients(ctx, []*domain.ConsolidatedClient{
		{IdentityKey: "a", Bucket: domain.BucketBalance},
		{IdentityKey: "b", Bucket: domain.BucketBalance},
		{IdentityKey: "c", Bucket: domain.BucketCleared},
	})
	if err != nil {
		t.Fatalf("PutClients() error = %v", err)
	}

	stats, err := m.ClientStats(ctx)
	if err != nil {
		t.Fatalf("ClientStats() error = %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.ByBucket[domain.BucketBalance] != 2 || stats.ByBucket[domain.BucketCleared] != 1 {
		t.Errorf("ByBucket = %v", stats.ByBucket)
	}
}

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	run := &ImportRun{ID: "run-1", FileName: "extract.csv", Status: RunStatusPending, CreatedAt: day(1)}
	if err := m.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	run.Status = RunStatusCompleted
	run.TotalMerged = 42
	if err := m.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun() error = %v", err)
	}

	got, err := m.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != RunStatusCompleted || got.TotalMerged != 42 {
		t.Errorf("GetRun() = %+v", got)
	}

	if err := m.CreateRun(ctx, &ImportRun{ID: "run-2", CreatedAt: day(2)}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	runs, err := m.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Errorf("ListRuns(1) = %+v, want newest only", runs)
	}

	if _, err := m.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
}
