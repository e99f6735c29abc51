package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

// SQLite is a file-backed (or :memory:) Store for single-machine deployments
// and offline reconciliation. The effective-date merge rule is expressed as
// a single INSERT ... ON CONFLICT statement, so each upsert is atomic inside
// the database engine with no read-then-write race.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clients (
	identity_key     TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	date_of_birth    TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	bucket           TEXT NOT NULL DEFAULT '',
	balance          REAL NOT NULL DEFAULT 0,
	effective_date   INTEGER NOT NULL DEFAULT 0,
	last_imported_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_key     TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	date_of_birth    TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	principal        REAL NOT NULL DEFAULT 0,
	interest_balance REAL NOT NULL DEFAULT 0,
	amortization_due REAL NOT NULL DEFAULT 0,
	penalty          REAL NOT NULL DEFAULT 0,
	next_installment REAL NOT NULL DEFAULT 0,
	next_due_date    TEXT NOT NULL DEFAULT '',
	branch_id        TEXT NOT NULL DEFAULT '',
	balance          REAL NOT NULL DEFAULT 0,
	bucket           TEXT NOT NULL DEFAULT '',
	effective_date   INTEGER NOT NULL DEFAULT 0,
	imported_at      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ledger_identity_key ON ledger(identity_key);

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY,
	file_name    TEXT NOT NULL DEFAULT '',
	branch_id    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	total_merged INTEGER NOT NULL DEFAULT 0,
	total_errors INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLite opens (and if needed creates) the database at path. Use
// ":memory:" for an ephemeral store.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc.org/sqlite serializes writes per connection; a single
	// connection avoids SQLITE_BUSY between concurrent upserts.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }

// Times are stored as unix nanoseconds so the upsert's date comparison is a
// plain integer comparison. The zero time maps to 0.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// mergeClientSQL mirrors domain.Merge: descriptive fields follow the newer
// effective date but never regress to empty, balance and bucket move only
// with a strictly newer date, and last_imported_at always advances.
const mergeClientSQL = `
INSERT INTO clients (
	identity_key, name, phone, email, address, date_of_birth, status,
	bucket, balance, effective_date, last_imported_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(identity_key) DO UPDATE SET
	name = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.name
		WHEN clients.name <> '' THEN clients.name
		ELSE excluded.name END,
	phone = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.phone
		WHEN clients.phone <> '' THEN clients.phone
		ELSE excluded.phone END,
	email = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.email
		WHEN clients.email <> '' THEN clients.email
		ELSE excluded.email END,
	address = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.address
		WHEN clients.address <> '' THEN clients.address
		ELSE excluded.address END,
	date_of_birth = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.date_of_birth
		WHEN clients.date_of_birth <> '' THEN clients.date_of_birth
		ELSE excluded.date_of_birth END,
	status = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.status
		WHEN clients.status <> '' THEN clients.status
		ELSE excluded.status END,
	bucket = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.bucket
		WHEN clients.bucket <> '' THEN clients.bucket
		ELSE excluded.bucket END,
	balance = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.balance
		ELSE clients.balance END,
	effective_date = CASE
		WHEN excluded.effective_date > clients.effective_date THEN excluded.effective_date
		ELSE clients.effective_date END,
	last_imported_at = excluded.last_imported_at
`

// MergeClients implements Store. Keys are upserted independently so one
// failing key never blocks the others.
func (s *SQLite) MergeClients(ctx context.Context, incoming []*domain.ConsolidatedClient) (*BulkResult, error) {
	stmt, err := s.db.PrepareContext(ctx, mergeClientSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare merge statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res := &BulkResult{}
	for _, c := range incoming {
		_, err := stmt.ExecContext(ctx,
			c.IdentityKey, c.Name, c.Phone, c.Email, c.Address, c.DateOfBirth,
			c.Status, string(c.Bucket), c.Balance, toNanos(c.EffectiveDate), toNanos(now),
		)
		if err != nil {
			res.Failed = append(res.Failed, KeyError{Key: c.IdentityKey, Err: err})
			continue
		}
		res.Merged++
	}
	return res, nil
}

// PutClients implements Store with unconditional overwrites.
func (s *SQLite) PutClients(ctx context.Context, clients []*domain.ConsolidatedClient) (*BulkResult, error) {
	stmt, err := s.db.PrepareContext(ctx, `
		INSERT OR REPLACE INTO clients (
			identity_key, name, phone, email, address, date_of_birth, status,
			bucket, balance, effective_date, last_imported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare put statement: %w", err)
	}
	defer stmt.Close()

	res := &BulkResult{}
	for _, c := range clients {
		_, err := stmt.ExecContext(ctx,
			c.IdentityKey, c.Name, c.Phone, c.Email, c.Address, c.DateOfBirth,
			c.Status, string(c.Bucket), c.Balance,
			toNanos(c.EffectiveDate), toNanos(c.LastImportedAt),
		)
		if err != nil {
			res.Failed = append(res.Failed, KeyError{Key: c.IdentityKey, Err: err})
			continue
		}
		res.Merged++
	}
	return res, nil
}

// AppendLedger implements Store. The batch is written in one transaction.
func (s *SQLite) AppendLedger(ctx context.Context, records []*domain.LedgerRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger (
			identity_key, name, phone, email, address, date_of_birth, status,
			principal, interest_balance, amortization_due, penalty,
			next_installment, next_due_date, branch_id, balance, bucket,
			effective_date, imported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.IdentityKey, r.Name, r.Phone, r.Email, r.Address, r.DateOfBirth,
			r.Status, r.Principal, r.InterestBalance, r.AmortizationDue,
			r.Penalty, r.NextInstallment, r.NextDueDate, r.BranchID,
			r.Balance, string(r.Bucket), toNanos(r.EffectiveDate), toNanos(r.ImportedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to append ledger row for %s: %w", r.IdentityKey, err)
		}
	}
	return tx.Commit()
}

// ScanLedger implements Store, streaming rows in insertion order.
func (s *SQLite) ScanLedger(ctx context.Context, fn func(*domain.LedgerRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_key, name, phone, email, address, date_of_birth, status,
			principal, interest_balance, amortization_due, penalty,
			next_installment, next_due_date, branch_id, balance, bucket,
			effective_date, imported_at
		FROM ledger ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.LedgerRecord
		var bucket string
		var effective, imported int64
		err := rows.Scan(
			&r.IdentityKey, &r.Name, &r.Phone, &r.Email, &r.Address,
			&r.DateOfBirth, &r.Status, &r.Principal, &r.InterestBalance,
			&r.AmortizationDue, &r.Penalty, &r.NextInstallment, &r.NextDueDate,
			&r.BranchID, &r.Balance, &bucket, &effective, &imported,
		)
		if err != nil {
			return fmt.Errorf("failed to scan ledger row: %w", err)
		}
		r.Bucket = domain.StatusBucket(bucket)
		r.EffectiveDate = fromNanos(effective)
		r.ImportedAt = fromNanos(imported)
		if err := fn(&r); err != nil {
			return err
		}
	}
	return rows.Err()
}

const selectClientSQL = `
SELECT identity_key, name, phone, email, address, date_of_birth, status,
	bucket, balance, effective_date, last_imported_at
FROM clients`

func scanClientRow(scan func(...any) error) (*domain.ConsolidatedClient, error) {
	var c domain.ConsolidatedClient
	var bucket string
	var effective, imported int64
	err := scan(
		&c.IdentityKey, &c.Name, &c.Phone, &c.Email, &c.Address,
		&c.DateOfBirth, &c.Status, &bucket, &c.Balance, &effective, &imported,
	)
	if err != nil {
		return nil, err
	}
	c.Bucket = domain.StatusBucket(bucket)
	c.EffectiveDate = fromNanos(effective)
	c.LastImportedAt = fromNanos(imported)
	return &c, nil
}

// ScanClients implements Store.
func (s *SQLite) ScanClients(ctx context.Context, fn func(*domain.ConsolidatedClient) error) error {
	rows, err := s.db.QueryContext(ctx, selectClientSQL+" ORDER BY identity_key")
	if err != nil {
		return fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanClientRow(rows.Scan)
		if err != nil {
			return fmt.Errorf("failed to scan client row: %w", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetClient implements Store.
func (s *SQLite) GetClient(ctx context.Context, key string) (*domain.ConsolidatedClient, error) {
	row := s.db.QueryRowContext(ctx, selectClientSQL+" WHERE identity_key = ?", key)
	c, err := scanClientRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %s: %w", key, err)
	}
	return c, nil
}

// DeleteClient implements Store.
func (s *SQLite) DeleteClient(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM clients WHERE identity_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete client %s: %w", key, err)
	}
	return nil
}

// ClientStats implements Store.
func (s *SQLite) ClientStats(ctx context.Context) (*ClientStats, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT bucket, COUNT(*) FROM clients GROUP BY bucket")
	if err != nil {
		return nil, fmt.Errorf("failed to query client stats: %w", err)
	}
	defer rows.Close()

	stats := &ClientStats{ByBucket: make(map[domain.StatusBucket]int)}
	for rows.Next() {
		var bucket string
		var count int
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.Total += count
		stats.ByBucket[domain.StatusBucket(bucket)] = count
	}
	return stats, rows.Err()
}

// CreateRun implements RunStore.
func (s *SQLite) CreateRun(ctx context.Context, run *ImportRun) error {
	var completed int64
	if run.CompletedAt != nil {
		completed = toNanos(*run.CompletedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO import_runs (
			id, file_name, branch_id, status, total_merged, total_errors,
			error, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FileName, run.BranchID, string(run.Status),
		run.TotalMerged, run.TotalErrors, run.Error,
		toNanos(run.CreatedAt), completed,
	)
	return err
}

// UpdateRun implements RunStore.
func (s *SQLite) UpdateRun(ctx context.Context, run *ImportRun) error {
	return s.CreateRun(ctx, run)
}

func scanRunRow(scan func(...any) error) (*ImportRun, error) {
	var run ImportRun
	var runStatus string
	var created, completed int64
	err := scan(
		&run.ID, &run.FileName, &run.BranchID, &runStatus,
		&run.TotalMerged, &run.TotalErrors, &run.Error, &created, &completed,
	)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(runStatus)
	run.CreatedAt = fromNanos(created)
	if completed != 0 {
		t := fromNanos(completed)
		run.CompletedAt = &t
	}
	return &run, nil
}

const selectRunSQL = `
SELECT id, file_name, branch_id, status, total_merged, total_errors,
	error, created_at, completed_at
FROM import_runs`

// GetRun implements RunStore.
func (s *SQLite) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	row := s.db.QueryRowContext(ctx, selectRunSQL+" WHERE id = ?", id)
	run, err := scanRunRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns implements RunStore, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	q := selectRunSQL + " ORDER BY created_at DESC"
	args := []any{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*ImportRun
	for rows.Next() {
		run, err := scanRunRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
