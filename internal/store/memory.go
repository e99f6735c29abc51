package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rumor-ml/commons.systems/loanmerge/internal/domain"
)

// Memory is an in-memory Store used for unit testing pipeline logic and for
// local dry runs without a persistent backend. Write failures can be
// injected per key or for whole bulk calls.
type Memory struct {
	mu      sync.Mutex
	clients map[string]*domain.ConsolidatedClient
	ledger  []*domain.LedgerRecord
	runs    map[string]*ImportRun

	mergeKeyErr map[string]error
	mergeAllErr error
	now         func() time.Time
}

// NewMemory instantiates the in-memory store.
func NewMemory() *Memory {
	return &Memory{
		clients:     make(map[string]*domain.ConsolidatedClient),
		runs:        make(map[string]*ImportRun),
		mergeKeyErr: make(map[string]error),
		now:         time.Now,
	}
}

// WithNow overrides the clock used for LastImportedAt stamps.
func (m *Memory) WithNow(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// FailKey makes merges for one identity key fail with err.
func (m *Memory) FailKey(key string, err error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeKeyErr[key] = err
	return m
}

// FailBulk makes every MergeClients call fail outright with err,
// simulating a store outage.
func (m *Memory) FailBulk(err error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeAllErr = err
	return m
}

// MergeClients implements Store. Each key is merged under the store lock,
// matching the atomicity the real backends provide per document/row.
func (m *Memory) MergeClients(ctx context.Context, incoming []*domain.ConsolidatedClient) (*BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mergeAllErr != nil {
		return nil, m.mergeAllErr
	}

	res := &BulkResult{}
	for _, inc := range incoming {
		if err := m.mergeKeyErr[inc.IdentityKey]; err != nil {
			res.Failed = append(res.Failed, KeyError{Key: inc.IdentityKey, Err: err})
			continue
		}
		m.clients[inc.IdentityKey] = domain.Merge(m.clients[inc.IdentityKey], inc, m.now())
		res.Merged++
	}
	return res, nil
}

// PutClients implements Store.
func (m *Memory) PutClients(ctx context.Context, clients []*domain.ConsolidatedClient) (*BulkResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &BulkResult{}
	for _, c := range clients {
		cp := *c
		m.clients[c.IdentityKey] = &cp
		res.Merged++
	}
	return res, nil
}

// AppendLedger implements Store.
func (m *Memory) AppendLedger(ctx context.Context, records []*domain.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		cp := *r
		m.ledger = append(m.ledger, &cp)
	}
	return nil
}

// ScanLedger implements Store.
func (m *Memory) ScanLedger(ctx context.Context, fn func(*domain.LedgerRecord) error) error {
	m.mu.Lock()
	snapshot := append([]*domain.LedgerRecord(nil), m.ledger...)
	m.mu.Unlock()

	for _, r := range snapshot {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// ScanClients implements Store.
func (m *Memory) ScanClients(ctx context.Context, fn func(*domain.ConsolidatedClient) error) error {
	m.mu.Lock()
	snapshot := make([]*domain.ConsolidatedClient, 0, len(m.clients))
	for _, c := range m.clients {
		snapshot = append(snapshot, c)
	}
	m.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].IdentityKey < snapshot[j].IdentityKey })
	for _, c := range snapshot {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

// GetClient implements Store.
func (m *Memory) GetClient(ctx context.Context, key string) (*domain.ConsolidatedClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteClient implements Store.
func (m *Memory) DeleteClient(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, key)
	return nil
}

// ClientStats implements Store.
func (m *Memory) ClientStats(ctx context.Context) (*ClientStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &ClientStats{ByBucket: make(map[domain.StatusBucket]int)}
	for _, c := range m.clients {
		stats.Total++
		stats.ByBucket[c.Bucket]++
	}
	return stats, nil
}

// LedgerLen returns the number of stored raw rows (test helper).
func (m *Memory) LedgerLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// CreateRun implements RunStore.
func (m *Memory) CreateRun(ctx context.Context, run *ImportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

// UpdateRun implements RunStore.
func (m *Memory) UpdateRun(ctx context.Context, run *ImportRun) error {
	return m.CreateRun(ctx, run)
}

// GetRun implements RunStore.
func (m *Memory) GetRun(ctx context.Context, id string) (*ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// ListRuns implements RunStore.
func (m *Memory) ListRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]*ImportRun, 0, len(m.runs))
	for _, r := range m.runs {
		cp := *r
		runs = append(runs, &cp)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
