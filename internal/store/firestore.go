package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

const (
	clientCollection = "loan-clients"
	ledgerCollection = "loan-ledger"
	runCollection    = "loan-import-runs"
)

// Firestore is the production Store backed by Cloud Firestore. The merge
// rule runs inside a per-key transaction, so the read-compare-write is one
// atomic operation from the point of view of concurrent imports.
type Firestore struct {
	fs        *firestore.Client
	projectID string
	now       func() time.Time
}

// NewFirestore creates a Firestore-backed store.
func NewFirestore(ctx context.Context, projectID string) (*Firestore, error) {
	conf := &firebase.Config{ProjectID: projectID}
	app, err := firebase.NewApp(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	fs, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &Firestore{fs: fs, projectID: projectID, now: time.Now}, nil
}

// Close implements Store.
func (s *Firestore) Close() error { return s.fs.Close() }

// clientDoc is the Firestore shape of a ConsolidatedClient.
type clientDoc struct {
	IdentityKey    string    `firestore:"identityKey"`
	Name           string    `firestore:"name"`
	Phone          string    `firestore:"phone"`
	Email          string    `firestore:"email"`
	Address        string    `firestore:"address"`
	DateOfBirth    string    `firestore:"dateOfBirth"`
	Status         string    `firestore:"status"`
	Bucket         string    `firestore:"statusBucket"`
	Balance        float64   `firestore:"balance"`
	EffectiveDate  time.Time `firestore:"effectiveDate"`
	LastImportedAt time.Time `firestore:"lastImportedAt"`
}

func toClientDoc(c *domain.ConsolidatedClient) *clientDoc {
	return &clientDoc{
		IdentityKey:    c.IdentityKey,
		Name:           c.Name,
		Phone:          c.Phone,
		Email:          c.Email,
		Address:        c.Address,
		DateOfBirth:    c.DateOfBirth,
		Status:         c.Status,
		Bucket:         string(c.Bucket),
		Balance:        c.Balance,
		EffectiveDate:  c.EffectiveDate,
		LastImportedAt: c.LastImportedAt,
	}
}

func (d *clientDoc) toDomain() *domain.ConsolidatedClient {
	return &domain.ConsolidatedClient{
		IdentityKey:    d.IdentityKey,
		Name:           d.Name,
		Phone:          d.Phone,
		Email:          d.Email,
		Address:        d.Address,
		DateOfBirth:    d.DateOfBirth,
		Status:         d.Status,
		Bucket:         domain.StatusBucket(d.Bucket),
		Balance:        d.Balance,
		EffectiveDate:  d.EffectiveDate,
		LastImportedAt: d.LastImportedAt,
	}
}

// ledgerDoc is the Firestore shape of a raw LedgerRecord.
type ledgerDoc struct {
	IdentityKey     string    `firestore:"identityKey"`
	Name            string    `firestore:"name"`
	Phone           string    `firestore:"phone"`
	Email           string    `firestore:"email"`
	Address         string    `firestore:"address"`
	DateOfBirth     string    `firestore:"dateOfBirth"`
	Status          string    `firestore:"status"`
	Principal       float64   `firestore:"principal"`
	InterestBalance float64   `firestore:"interestBalance"`
	AmortizationDue float64   `firestore:"amortizationDue"`
	Penalty         float64   `firestore:"penalty"`
	NextInstallment float64   `firestore:"nextInstallment"`
	NextDueDate     string    `firestore:"nextDueDate"`
	BranchID        string    `firestore:"branchId"`
	Balance         float64   `firestore:"balance"`
	Bucket          string    `firestore:"statusBucket"`
	EffectiveDate   time.Time `firestore:"effectiveDate"`
	ImportedAt      time.Time `firestore:"importedAt"`
}

func toLedgerDoc(r *domain.LedgerRecord) *ledgerDoc {
	return &ledgerDoc{
		IdentityKey:     r.IdentityKey,
		Name:            r.Name,
		Phone:           r.Phone,
		Email:           r.Email,
		Address:         r.Address,
		DateOfBirth:     r.DateOfBirth,
		Status:          r.Status,
		Principal:       r.Principal,
		InterestBalance: r.InterestBalance,
		AmortizationDue: r.AmortizationDue,
		Penalty:         r.Penalty,
		NextInstallment: r.NextInstallment,
		NextDueDate:     r.NextDueDate,
		BranchID:        r.BranchID,
		Balance:         r.Balance,
		Bucket:          string(r.Bucket),
		EffectiveDate:   r.EffectiveDate,
		ImportedAt:      r.ImportedAt,
	}
}

func (d *ledgerDoc) toDomain() *domain.LedgerRecord {
	return &domain.LedgerRecord{
		IdentityKey:     d.IdentityKey,
		Name:            d.Name,
		Phone:           d.Phone,
		Email:           d.Email,
		Address:         d.Address,
		DateOfBirth:     d.DateOfBirth,
		Status:          d.Status,
		Principal:       d.Principal,
		InterestBalance: d.InterestBalance,
		AmortizationDue: d.AmortizationDue,
		Penalty:         d.Penalty,
		NextInstallment: d.NextInstallment,
		NextDueDate:     d.NextDueDate,
		BranchID:        d.BranchID,
		Balance:         d.Balance,
		Bucket:          domain.StatusBucket(d.Bucket),
		EffectiveDate:   d.EffectiveDate,
		ImportedAt:      d.ImportedAt,
	}
}

// MergeClients implements Store. Each key runs its own transaction, so one
// failing key never blocks the others (unordered bulk semantics).
func (s *Firestore) MergeClients(ctx context.Context, incoming []*domain.ConsolidatedClient) (*BulkResult, error) {
	res := &BulkResult{}
	for _, inc := range incoming {
		if err := s.mergeOne(ctx, inc); err != nil {
			res.Failed = append(res.Failed, KeyError{Key: inc.IdentityKey, Err: err})
			continue
		}
		res.Merged++
	}
	return res, nil
}

func (s *Firestore) mergeOne(ctx context.Context, inc *domain.ConsolidatedClient) error {
	ref := s.fs.Collection(clientCollection).Doc(inc.IdentityKey)

	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("failed to read client %s: %w", inc.IdentityKey, err)
		}

		var existing *domain.ConsolidatedClient
		if snap != nil && snap.Exists() {
			var doc clientDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("failed to decode client %s: %w", inc.IdentityKey, err)
			}
			existing = doc.toDomain()
		}

		merged := domain.Merge(existing, inc, s.now())
		return tx.Set(ref, toClientDoc(merged))
	})
}

// PutClients implements Store using a BulkWriter: writes are unordered and
// each document reports success or failure independently.
func (s *Firestore) PutClients(ctx context.Context, clients []*domain.ConsolidatedClient) (*BulkResult, error) {
	bw := s.fs.BulkWriter(ctx)

	type pending struct {
		key string
		job *firestore.BulkWriterJob
	}
	jobs := make([]pending, 0, len(clients))

	res := &BulkResult{}
	for _, c := range clients {
		ref := s.fs.Collection(clientCollection).Doc(c.IdentityKey)
		job, err := bw.Set(ref, toClientDoc(c))
		if err != nil {
			res.Failed = append(res.Failed, KeyError{Key: c.IdentityKey, Err: err})
			continue
		}
		jobs = append(jobs, pending{key: c.IdentityKey, job: job})
	}
	bw.End()

	for _, p := range jobs {
		if _, err := p.job.Results(); err != nil {
			res.Failed = append(res.Failed, KeyError{Key: p.key, Err: err})
			continue
		}
		res.Merged++
	}
	return res, nil
}

// AppendLedger implements Store. Rows get auto-generated document IDs, so a
// re-import of the same source appends rather than overwriting.
func (s *Firestore) AppendLedger(ctx context.Context, records []*domain.LedgerRecord) error {
	bw := s.fs.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(records))
	for _, r := range records {
		ref := s.fs.Collection(ledgerCollection).NewDoc()
		job, err := bw.Create(ref, toLedgerDoc(r))
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue ledger row: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to append ledger row: %w", err)
		}
	}
	return nil
}

// ScanLedger implements Store with a forward-only cursor over the ledger
// collection; rows are decoded one at a time.
func (s *Firestore) ScanLedger(ctx context.Context, fn func(*domain.LedgerRecord) error) error {
	iter := s.fs.Collection(ledgerCollection).Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to iterate ledger: %w", err)
		}

		var doc ledgerDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to decode ledger row %s: %w", snap.Ref.ID, err)
		}
		if err := fn(doc.toDomain()); err != nil {
			return err
		}
	}
}

// ScanClients implements Store.
func (s *Firestore) ScanClients(ctx context.Context, fn func(*domain.ConsolidatedClient) error) error {
	iter := s.fs.Collection(clientCollection).Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to iterate clients: %w", err)
		}

		var doc clientDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to decode client %s: %w", snap.Ref.ID, err)
		}
		if err := fn(doc.toDomain()); err != nil {
			return err
		}
	}
}

// GetClient implements Store.
func (s *Firestore) GetClient(ctx context.Context, key string) (*domain.ConsolidatedClient, error) {
	snap, err := s.fs.Collection(clientCollection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %s: %w", key, err)
	}

	var doc clientDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode client %s: %w", key, err)
	}
	return doc.toDomain(), nil
}

// DeleteClient implements Store.
func (s *Firestore) DeleteClient(ctx context.Context, key string) error {
	if _, err := s.fs.Collection(clientCollection).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete client %s: %w", key, err)
	}
	return nil
}

// ClientStats implements Store. Only the bucket field is fetched per
// document to keep the scan cheap.
func (s *Firestore) ClientStats(ctx context.Context) (*ClientStats, error) {
	iter := s.fs.Collection(clientCollection).Select("statusBucket").Documents(ctx)
	defer iter.Stop()

	stats := &ClientStats{ByBucket: make(map[domain.StatusBucket]int)}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate clients: %w", err)
		}

		stats.Total++
		if v, err := snap.DataAt("statusBucket"); err == nil {
			if bucket, ok := v.(string); ok {
				stats.ByBucket[domain.StatusBucket(bucket)]++
			}
		}
	}
}

// runDoc is the Firestore shape of an ImportRun.
type runDoc struct {
	ID          string     `firestore:"id"`
	FileName    string     `firestore:"fileName"`
	BranchID    string     `firestore:"branchId"`
	Status      string     `firestore:"status"`
	TotalMerged int        `firestore:"totalMerged"`
	TotalErrors int        `firestore:"totalErrors"`
	Error       string     `firestore:"error,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	CompletedAt *time.Time `firestore:"completedAt,omitempty"`
}

func toRunDoc(r *ImportRun) *runDoc {
	return &runDoc{
		ID:          r.ID,
		FileName:    r.FileName,
		BranchID:    r.BranchID,
		Status:      string(r.Status),
		TotalMerged: r.TotalMerged,
		TotalErrors: r.TotalErrors,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
}

func (d *runDoc) toDomain() *ImportRun {
	return &ImportRun{
		ID:          d.ID,
		FileName:    d.FileName,
		BranchID:    d.BranchID,
		Status:      RunStatus(d.Status),
		TotalMerged: d.TotalMerged,
		TotalErrors: d.TotalErrors,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt,
		CompletedAt: d.CompletedAt,
	}
}

// CreateRun implements RunStore.
func (s *Firestore) CreateRun(ctx context.Context, run *ImportRun) error {
	_, err := s.fs.Collection(runCollection).Doc(run.ID).Set(ctx, toRunDoc(run))
	return err
}

// UpdateRun implements RunStore.
func (s *Firestore) UpdateRun(ctx context.Context, run *ImportRun) error {
	return s.CreateRun(ctx, run)
}

// GetRun implements RunStore.
func (s *Firestore) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	snap, err := s.fs.Collection(runCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	var doc runDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

// ListRuns implements RunStore.
func (s *Firestore) ListRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	q := s.fs.Collection(runCollection).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var runs []*ImportRun
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return runs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate runs: %w", err)
		}

		var doc runDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		runs = append(runs, doc.toDomain())
	}
}
