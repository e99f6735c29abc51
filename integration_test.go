package loanmerge_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/ingest"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/normalize"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/output"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/rebuild"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/registry"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/scanner"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/source"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
)

// writeExtract creates a branch extract file under root, nesting it in the
// branch directory the scanner derives branch ids from.
func writeExtract(t *testing.T, root, branch, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, branch)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// importFile runs one extract through the real scanner/registry/normalizer
// pipeline into the given store.
func importFile(t *testing.T, st store.Store, file scanner.ScanResult) *ingest.Result {
	t.Helper()

	reg := registry.New()
	reader, err := reg.FindReader(file.Path)
	if err != nil {
		t.Fatalf("FindReader(%s) error = %v", file.Path, err)
	}

	f, err := os.Open(file.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	src, err := reader.Open(context.Background(), f, file.Metadata)
	if err != nil {
		t.Fatalf("reader.Open() error = %v", err)
	}
	defer src.Close()

	norm := normalize.New(normalize.Options{
		DefaultBranchID:  file.Metadata.BranchID(),
		PhoneCountryCode: "260",
	})

	res, err := ingest.New(st, ingest.Options{BatchSize: 50}).Run(context.Background(), src, norm)
	if err != nil {
		t.Fatalf("ingest.Run() error = %v", err)
	}
	return res
}

// TestPipeline_ScanImportConsolidate exercises the full flow: scan a
// directory tree of branch extracts, import each file, and check that rows
// for the same borrower across branches collapse into one consolidated
// client with effective-date conflict resolution applied.
func TestPipeline_ScanImportConsolidate(t *testing.T) {
	tmpDir := t.TempDir()

	// Same borrower appears in two branch extracts under two phone
	// renderings. The March statement is newer and must win.
	writeExtract(t, tmpDir, "Lusaka_Main", "february.csv",
		"Customer Name,Mobile,Loan Status,Amortization Due,Statement Date\n"+
			"Agnes Mwale,0978559684,Current,500,2026-02-28\n"+
			"Brian Phiri,0955111222,Current,300,2026-02-28\n")
	writeExtract(t, tmpDir, "Kitwe", "march.csv",
		"Customer Name,Mobile,Loan Status,Amortization Due,Statement Date\n"+
			"Agnes K. Mwale,+260978559684,Fully Paid,0,2026-03-31\n")

	files, err := scanner.New(tmpDir).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Scan() found %d files, want 2", len(files))
	}

	st := store.NewMemory()
	totalMerged := 0
	for _, file := range files {
		res := importFile(t, st, file)
		if res.Errors != 0 {
			t.Errorf("import of %s had %d errors", file.Path, res.Errors)
		}
		totalMerged += res.Merged
	}
	if totalMerged != 3 {
		t.Errorf("merged %d rows, want 3", totalMerged)
	}

	stats, err := st.ClientStats(context.Background())
	if err != nil {
		t.Fatalf("ClientStats() error = %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("consolidated %d clients, want 2 (same borrower keys across branches)", stats.Total)
	}

	// The newer Fully Paid statement must have moved Agnes to cleared.
	agnes, err := st.GetClient(context.Background(), "phone:978559684")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if agnes.Bucket != domain.BucketCleared {
		t.Errorf("Bucket = %q, want cleared after the newer statement", agnes.Bucket)
	}
	if agnes.Balance != 0 {
		t.Errorf("Balance = %v, want 0", agnes.Balance)
	}
	if !agnes.EffectiveDate.Equal(time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EffectiveDate = %v, want the March statement date", agnes.EffectiveDate)
	}
}

// TestPipeline_ImportIsIdempotent re-imports the same extract and checks
// the consolidated table holds steady while the raw ledger grows.
func TestPipeline_ImportIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	writeExtract(t, tmpDir, "Lusaka_Main", "extract.csv",
		"Customer Name,Mobile,Loan Status,Amortization Due,Statement Date\n"+
			"Agnes Mwale,0978559684,Current,500,2026-02-28\n")

	files, err := scanner.New(tmpDir).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	st := store.NewMemory()
	for i := 0; i < 3; i++ {
		importFile(t, st, files[0])
	}

	stats, err := st.ClientStats(context.Background())
	if err != nil {
		t.Fatalf("ClientStats() error = %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("consolidated %d clients after 3 imports, want 1", stats.Total)
	}
	if st.LedgerLen() != 3 {
		t.Errorf("ledger has %d rows, want 3 (append-only)", st.LedgerLen())
	}
}

// TestPipeline_RebuildRecoversFromDrift corrupts a consolidated row, then
// checks the rebuilder restores it from the raw ledger.
func TestPipeline_RebuildRecoversFromDrift(t *testing.T) {
	tmpDir := t.TempDir()
	writeExtract(t, tmpDir, "Lusaka_Main", "extract.csv",
		"Customer Name,Mobile,Loan Status,Amortization Due,Statement Date\n"+
			"Agnes Mwale,0978559684,Current,500,2026-02-28\n"+
			"Brian Phiri,0955111222,Current,300,2026-02-28\n")

	files, err := scanner.New(tmpDir).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	st := store.NewMemory()
	importFile(t, st, files[0])

	// Simulate drift: a manual edit left Agnes with a nonsense balance.
	drifted, err := st.GetClient(context.Background(), "phone:978559684")
	if err != nil {
		t.Fatal(err)
	}
	drifted.Balance = 999999
	if _, err := st.PutClients(context.Background(), []*domain.ConsolidatedClient{drifted}); err != nil {
		t.Fatal(err)
	}

	res, err := rebuild.New(st, rebuild.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("rebuild.Run() error = %v", err)
	}
	if res.Clients != 2 || res.Errors != 0 {
		t.Errorf("rebuild Clients = %d, Errors = %d, want 2/0", res.Clients, res.Errors)
	}

	agnes, err := st.GetClient(context.Background(), "phone:978559684")
	if err != nil {
		t.Fatal(err)
	}
	if agnes.Balance != 500 {
		t.Errorf("Balance = %v, want 500 recomputed from the ledger", agnes.Balance)
	}
}

// TestPipeline_ExportReflectsStore imports an extract and checks the JSON
// export snapshot matches the consolidated table.
func TestPipeline_ExportReflectsStore(t *testing.T) {
	tmpDir := t.TempDir()
	writeExtract(t, tmpDir, "Lusaka_Main", "extract.csv",
		"Customer Name,Mobile,Loan Status,Amortization Due,Statement Date\n"+
			"Agnes Mwale,0978559684,Current,500,2026-02-28\n"+
			"Brian Phiri,0955111222,Fully Paid,0,2026-02-28\n")

	files, err := scanner.New(tmpDir).Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	st := store.NewMemory()
	importFile(t, st, files[0])

	report, err := output.BuildReport(context.Background(), st)
	if err != nil {
		t.Fatalf("BuildReport() error = %v", err)
	}
	if report.Total != 2 {
		t.Errorf("Total = %d, want 2", report.Total)
	}
	if report.ByBucket[domain.BucketBalance] != 1 || report.ByBucket[domain.BucketCleared] != 1 {
		t.Errorf("ByBucket = %v, want one balance and one cleared", report.ByBucket)
	}
}

// TestPipeline_SourceAbortKeepsFlushedBatches checks that when a row source
// fails mid-stream, already flushed batches stay persisted.
func TestPipeline_SourceAbortKeepsFlushedBatches(t *testing.T) {
	rows := []map[string]string{
		{"Customer Name": "Agnes Mwale", "Mobile": "0978559684", "Loan Status": "Current", "Amortization Due": "500"},
		{"Customer Name": "Brian Phiri", "Mobile": "0955111222", "Loan Status": "Current", "Amortization Due": "300"},
		{"Customer Name": "Chanda Zulu", "Mobile": "0966333444", "Loan Status": "Current", "Amortization Due": "200"},
	}
	src := source.NewRowsWithError(rows, os.ErrClosed)

	st := store.NewMemory()
	norm := normalize.New(normalize.Options{DefaultBranchID: "hq", PhoneCountryCode: "260"})

	_, err := ingest.New(st, ingest.Options{BatchSize: 2}).Run(context.Background(), src, norm)
	if err == nil {
		t.Fatal("Run() error = nil, want source failure")
	}
	if st.LedgerLen() != 2 {
		t.Errorf("ledger has %d rows, want the 2 flushed before the abort", st.LedgerLen())
	}
}
