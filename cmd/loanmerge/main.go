package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/config"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/ingest"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/normalize"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/output"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/rebuild"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/registry"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/scanner"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/server"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/store"
	"github.com/rumor-ml/commons.systems/loanmerge/internal/ui"
)

const (
	version = "0.1.0"

	// importConcurrency caps concurrent per-file imports; correctness under
	// concurrency comes from the store's per-key atomic merge, not from
	// serializing files.
	importConcurrency = 4
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")

	// Core CLI flags
	inputDir   = flag.String("input", "", "Input directory containing branch extracts")
	configFile = flag.String("config", "", "YAML config file (embedded defaults when omitted)")
	dryRun     = flag.Bool("dry-run", false, "Show what would be imported without writing")
	verbose    = flag.Bool("verbose", false, "Show detailed import logs")

	// Pipeline overrides
	batchSize = flag.Int("batch-size", 0, "Batch flush threshold (overrides config)")
	branchID  = flag.String("branch", "", "Default branch id for rows without one (overrides config)")

	// Store selection
	storeBackend = flag.String("store", "", "Store backend: memory, sqlite, firestore (overrides config)")
	sqlitePath   = flag.String("sqlite", "", "SQLite database path (overrides config)")
	projectID    = flag.String("project", "", "Firestore project id (overrides config)")

	// Maintenance modes
	rebuildFlag = flag.Bool("rebuild", false, "Recompute consolidated clients from the raw ledger")
	purgeFlag   = flag.Bool("purge-malformed", false, "With -rebuild: purge malformed client keys first")
	statsFlag   = flag.Bool("stats", false, "Print client counts per status bucket and exit")
	exportFlag  = flag.Bool("export", false, "Export the consolidated client snapshot as JSON and exit")
	outputFile  = flag.String("output", "", "With -export: output file path (stdout when omitted)")

	// Server mode
	serveFlag = flag.Bool("serve", false, "Run the HTTP API server")
	addrFlag  = flag.String("addr", "", "HTTP listen address (overrides config)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `loanmerge - Loan statement consolidation pipeline

Usage:
  loanmerge [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Import every branch extract under a directory into SQLite
  loanmerge -input ~/extracts -store sqlite -sqlite loans.db

  # Dry run with verbose output
  loanmerge -input ~/extracts -dry-run -verbose

  # Rebuild consolidated clients from the raw ledger
  loanmerge -rebuild -purge-malformed -store sqlite -sqlite loans.db

  # Export the consolidated snapshot to JSON
  loanmerge -export -store sqlite -sqlite loans.db -output clients.json

  # Run the API server against Firestore
  loanmerge -serve -store firestore -project my-project

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("loanmerge version %s\n", version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case *statsFlag:
		return printStats(ctx, st)
	case *exportFlag:
		return runExport(ctx, st)
	case *rebuildFlag:
		return runRebuild(ctx, st, cfg)
	case *serveFlag:
		return runServer(st, cfg)
	default:
		if *inputDir == "" {
			fmt.Fprintf(os.Stderr, "Error: -input flag is required\n\n")
			flag.Usage()
			os.Exit(1)
		}
		return runImport(ctx, st, cfg)
	}
}

// loadConfig merges the embedded defaults, the optional config file and the
// command-line overrides, in that order.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if *configFile != "" {
		cfg, err = config.LoadFromFile(*configFile)
	} else {
		cfg, err = config.LoadEmbedded()
	}
	if err != nil {
		return nil, err
	}

	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *branchID != "" {
		cfg.DefaultBranchID = *branchID
	}
	if *storeBackend != "" {
		cfg.Store.Backend = config.Backend(*storeBackend)
	}
	if *sqlitePath != "" {
		cfg.Store.SQLitePath = *sqlitePath
	}
	if *projectID != "" {
		cfg.Store.FirestoreProject = *projectID
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	if *purgeFlag {
		cfg.Rebuild.PurgeMalformed = true
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendSQLite:
		return store.NewSQLite(cfg.Store.SQLitePath)
	case config.BackendFirestore:
		return store.NewFirestore(ctx, cfg.Store.FirestoreProject)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func runImport(ctx context.Context, st store.Store, cfg *config.Config) error {
	if !*verbose {
		ui.Header("Importing Loan Extracts")
		ui.Step(1, 3, "Scanning directory")
	} else {
		fmt.Fprintf(os.Stderr, "Scanning directory: %s\n", *inputDir)
	}

	files, err := scanner.New(*inputDir).Scan()
	if err != nil {
		return fmt.Errorf("failed to scan directory %s: %w", *inputDir, err)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Found %d extract files\n", len(files))
		for _, f := range files {
			fmt.Fprintf(os.Stderr, "  - %s (branch: %s)\n", f.Path, f.Metadata.BranchID())
		}
	} else {
		ui.Success(fmt.Sprintf("Found %d extract files", len(files)))
	}

	if *dryRun {
		fmt.Printf("Dry run complete. Would import %d files.\n", len(files))
		return nil
	}

	if len(files) == 0 {
		return fmt.Errorf("no extract files found in %s\n\nPlease check:\n  - Directory path is correct\n  - Files have supported extensions (.csv, .tsv, .txt)\n  - You have read permissions on the directory and files\n\nRun with -verbose to see file discovery details", *inputDir)
	}

	reg := registry.New()
	if !*verbose {
		ui.Step(2, 3, "Importing extracts")
	}

	// Files import concurrently; per-key correctness is the store's job.
	var mu sync.Mutex
	totals := ingest.Result{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)
	for _, file := range files {
		g.Go(func() error {
			res, err := importFile(gctx, st, cfg, reg, file)
			if err != nil {
				return fmt.Errorf("import failed for %s: %w", file.Path, err)
			}
			if *verbose {
				fmt.Fprintf(os.Stderr, "  %s: %d rows, %d merged, %d errors\n",
					file.Path, res.Processed, res.Merged, res.Errors)
			}
			mu.Lock()
			totals.Processed += res.Processed
			totals.Merged += res.Merged
			totals.Errors += res.Errors
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !*verbose {
		ui.Step(3, 3, "Summary")
	}
	ui.Info(fmt.Sprintf("Processed %d rows across %d files", totals.Processed, len(files)))
	ui.Success(fmt.Sprintf("Merged %d clients", totals.Merged))
	if totals.Errors > 0 {
		ui.Warning(fmt.Sprintf("%d rows or keys failed (run with -verbose for details)", totals.Errors))
	}
	return nil
}

func importFile(ctx context.Context, st store.Store, cfg *config.Config, reg *registry.Registry, file scanner.ScanResult) (*ingest.Result, error) {
	reader, err := reg.FindReader(file.Path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.Path, err)
	}
	defer f.Close()

	src, err := reader.Open(ctx, f, file.Metadata)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	branch := file.Metadata.BranchID()
	if branch == "" {
		branch = cfg.DefaultBranchID
	}
	norm := normalize.New(normalize.Options{
		DefaultBranchID:  branch,
		PhoneCountryCode: cfg.PhoneCountryCode,
	})

	imp := ingest.New(st, ingest.Options{BatchSize: cfg.BatchSize, Verbose: *verbose})
	return imp.Run(ctx, src, norm)
}

func runRebuild(ctx context.Context, st store.Store, cfg *config.Config) error {
	ui.Header("Rebuilding Consolidated Clients")

	start := time.Now()
	rb := rebuild.New(st, rebuild.Options{
		FlushSize:      cfg.Rebuild.FlushSize,
		PurgeMalformed: cfg.Rebuild.PurgeMalformed,
	})
	res, err := rb.Run(ctx)
	if err != nil {
		return err
	}

	if res.Purged > 0 {
		ui.Info(fmt.Sprintf("Purged %d malformed clients", res.Purged))
	}
	ui.Info(fmt.Sprintf("Scanned %d ledger rows", res.LedgerRows))
	ui.Success(fmt.Sprintf("Rebuilt %d clients in %s", res.Clients, time.Since(start).Round(time.Millisecond)))
	if res.Errors > 0 {
		ui.Warning(fmt.Sprintf("%d keys failed to write", res.Errors))
	}
	return nil
}

func runExport(ctx context.Context, st store.Store) error {
	report, err := output.BuildReport(ctx, st)
	if err != nil {
		return err
	}
	if err := output.WriteReportToFile(report, output.WriteOptions{FilePath: *outputFile}); err != nil {
		return err
	}
	if *outputFile != "" {
		fmt.Fprintf(os.Stderr, "Exported %d clients to %s\n", report.Total, *outputFile)
	}
	return nil
}

func printStats(ctx context.Context, st store.Store) error {
	stats, err := st.ClientStats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Consolidated clients: %d\n", stats.Total)
	for bucket, count := range stats.ByBucket {
		fmt.Printf("  %-10s %d\n", bucket, count)
	}
	return nil
}

func runServer(st store.Store, cfg *config.Config) error {
	runs, ok := st.(store.RunStore)
	if !ok {
		return fmt.Errorf("store backend %q cannot track import runs", cfg.Store.Backend)
	}

	srv := server.New(st, runs, cfg)
	ui.Header("Loan Consolidation API")
	ui.Info(fmt.Sprintf("Listening on %s", cfg.Server.Addr))
	return http.ListenAndServe(cfg.Server.Addr, srv.Handler())
}
