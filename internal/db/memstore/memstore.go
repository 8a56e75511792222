// Package memstore is an in-memory implementation of the persistence interfaces used by the
// pipeline, publish and reconcile packages. It backs unit tests and the --memory serve mode.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/storefront-agent/internal/types"
)

type saleKey struct {
	receipt     int64
	transaction int64
}

// Store keeps every record in memory behind a single mutex. Records are copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu sync.Mutex

	now func() time.Time

	runs     map[uuid.UUID]*types.Run
	entities map[uuid.UUID]*types.Entity
	sales    map[saleKey]*types.SaleRecord
	findings map[uuid.UUID]*types.ResearchFindings
	reports  map[uuid.UUID]*types.Report
	cred     *types.Credential

	// failures injected by tests, keyed by method name
	failures map[string]error
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:      time.Now,
		runs:     make(map[uuid.UUID]*types.Run),
		entities: make(map[uuid.UUID]*types.Entity),
		sales:    make(map[saleKey]*types.SaleRecord),
		findings: make(map[uuid.UUID]*types.ResearchFindings),
		reports:  make(map[uuid.UUID]*types.Report),
		failures: make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) fail(method string) error {
	return s.failures[method]
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

// CreateRun inserts a new running run
func (s *Store) CreateRun(_ context.Context, phase types.Phase, metadata map[string]any) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateRun"); err != nil {
		return nil, err
	}
	run := &types.Run{
		ID:        uuid.New(),
		Phase:     phase,
		Status:    types.RunStatusRunning,
		Metadata:  types.MergeMetadata(nil, metadata),
		StartedAt: s.now(),
	}
	s.runs[run.ID] = run
	return copyRun(run), nil
}

// MergeRunMetadata merges patch into the run's metadata
func (s *Store) MergeRunMetadata(_ context.Context, runID uuid.UUID, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MergeRunMetadata"); err != nil {
		return err
	}
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	run.Metadata = types.MergeMetadata(run.Metadata, patch)
	return nil
}

// FinishRun moves a running run to a terminal status
func (s *Store) FinishRun(_ context.Context, runID uuid.UUID, status types.RunStatus, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FinishRun"); err != nil {
		return err
	}
	if status == types.RunStatusRunning {
		return fmt.Errorf("cannot finish run with status %q", status)
	}
	run, ok := s.runs[runID]
	if !ok || run.IsTerminal() {
		return fmt.Errorf("run %s not found or already finished", runID)
	}
	now := s.now()
	run.Status = status
	run.CompletedAt = &now
	run.Metadata = types.MergeMetadata(run.Metadata, patch)
	return nil
}

// GetRun returns a run, or nil if unknown
func (s *Store) GetRun(_ context.Context, runID uuid.UUID) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return copyRun(run), nil
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(_ context.Context, filters types.RunFilters) ([]types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filters.Limit == 0 {
		filters.Limit = 50
	}
	var out []types.Run
	for _, run := range s.runs {
		if filters.Phase != "" && run.Phase != filters.Phase {
			continue
		}
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		out = append(out, *copyRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out, nil
}

// RunsByPhase returns every run of the phase, used by tests to assert on bookkeeping
func (s *Store) RunsByPhase(phase types.Phase) []types.Run {
	runs, _ := s.ListRuns(context.Background(), types.RunFilters{Phase: phase, Limit: 1 << 20})
	return runs
}

func copyRun(r *types.Run) *types.Run {
	c := *r
	c.Metadata = types.MergeMetadata(nil, r.Metadata)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// CreateEntity inserts an entity
func (s *Store) CreateEntity(_ context.Context, e *types.Entity) error {
	if err := types.ValidateInitialStatus(e.Status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateEntity"); err != nil {
		return err
	}
	e.ID = uuid.New()
	e.CreatedAt = s.now()
	e.UpdatedAt = e.CreatedAt
	s.entities[e.ID] = copyEntity(e)
	return nil
}

// PutEntity stores an entity as-is, bypassing status validation. Tests use it to seed state.
func (s *Store) PutEntity(e *types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.entities[e.ID] = copyEntity(e)
}

// GetEntity returns an entity, or nil if unknown
func (s *Store) GetEntity(_ context.Context, id uuid.UUID) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetEntity"); err != nil {
		return nil, err
	}
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	return copyEntity(e), nil
}

// FindEntityByListingID resolves a marketplace listing id
func (s *Store) FindEntityByListingID(_ context.Context, listingID int64) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("FindEntityByListingID"); err != nil {
		return nil, err
	}
	for _, e := range s.entities {
		if e.ListingID != nil && *e.ListingID == listingID {
			return copyEntity(e), nil
		}
	}
	return nil, nil
}

// TransitionEntityStatus applies an expected-status precondition before changing status
func (s *Store) TransitionEntityStatus(_ context.Context, id uuid.UUID, from []types.EntityStatus, to types.EntityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TransitionEntityStatus:" + string(to)); err != nil {
		return err
	}
	e, ok := s.entities[id]
	if !ok {
		return types.ErrEntityNotFound
	}
	if !slices.Contains(from, e.Status) {
		return types.ErrStatusConflict
	}
	e.Status = to
	e.UpdatedAt = s.now()
	return nil
}

// SaveEntityContent writes regenerated content onto an entity awaiting its quality gate
func (s *Store) SaveEntityContent(_ context.Context, in *types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveEntityContent"); err != nil {
		return err
	}
	e, ok := s.entities[in.ID]
	if !ok {
		return types.ErrEntityNotFound
	}
	if e.Status != types.EntityQualityGatePending {
		return types.ErrStatusConflict
	}
	c := copyEntity(in)
	c.CreatedAt = e.CreatedAt
	c.ReportID = e.ReportID
	c.DraftListingID = nil
	c.ListingID = nil
	c.ListingURL = ""
	c.UpdatedAt = s.now()
	s.entities[in.ID] = c
	return nil
}

// UpdateEntityDescription replaces an entity's description
func (s *Store) UpdateEntityDescription(_ context.Context, id uuid.UUID, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateEntityDescription"); err != nil {
		return err
	}
	e, ok := s.entities[id]
	if !ok {
		return types.ErrEntityNotFound
	}
	e.Description = description
	e.UpdatedAt = s.now()
	return nil
}

// SetDraftListingID records the remote draft id
func (s *Store) SetDraftListingID(_ context.Context, id uuid.UUID, draftListingID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetDraftListingID"); err != nil {
		return err
	}
	e, ok := s.entities[id]
	if !ok {
		return types.ErrEntityNotFound
	}
	e.DraftListingID = &draftListingID
	e.UpdatedAt = s.now()
	return nil
}

// MarkEntityPublished moves a publishing entity to published with its identifiers
func (s *Store) MarkEntityPublished(_ context.Context, id uuid.UUID, listingID int64, listingURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkEntityPublished"); err != nil {
		return err
	}
	e, ok := s.entities[id]
	if !ok {
		return types.ErrEntityNotFound
	}
	if e.Status != types.EntityPublishing {
		return types.ErrStatusConflict
	}
	e.Status = types.EntityPublished
	e.ListingID = &listingID
	e.ListingURL = listingURL
	e.UpdatedAt = s.now()
	return nil
}

func copyEntity(e *types.Entity) *types.Entity {
	c := *e
	c.Tags = slices.Clone(e.Tags)
	c.ImageURLs = slices.Clone(e.ImageURLs)
	c.Content = slices.Clone(e.Content)
	if e.QualityScores != nil {
		q := *e.QualityScores
		q.Scores = maps.Clone(e.QualityScores.Scores)
		c.QualityScores = &q
	}
	if e.ReportID != nil {
		id := *e.ReportID
		c.ReportID = &id
	}
	if e.DraftListingID != nil {
		v := *e.DraftListingID
		c.DraftListingID = &v
	}
	if e.ListingID != nil {
		v := *e.ListingID
		c.ListingID = &v
	}
	return &c
}

// ---------------------------------------------------------------------------
// Sales
// ---------------------------------------------------------------------------

// ReceiptExists reports whether a sale references the receipt
func (s *Store) ReceiptExists(_ context.Context, receiptID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReceiptExists"); err != nil {
		return false, err
	}
	for k := range s.sales {
		if k.receipt == receiptID {
			return true, nil
		}
	}
	return false, nil
}

// InsertSale stores a sale unless its (receipt, transaction) pair exists
func (s *Store) InsertSale(_ context.Context, sale *types.SaleRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertSale"); err != nil {
		return false, err
	}
	key := saleKey{sale.ExternalReceiptID, sale.ExternalTransactionID}
	if _, ok := s.sales[key]; ok {
		return false, nil
	}
	sale.ID = uuid.New()
	sale.CreatedAt = s.now()
	c := *sale
	s.sales[key] = &c
	return true, nil
}

// InsertReceiptSales stores all sales of one receipt under one lock hold. On failure nothing
// is stored.
func (s *Store) InsertReceiptSales(_ context.Context, sales []*types.SaleRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertReceiptSales"); err != nil {
		return 0, err
	}
	inserted := 0
	for _, sale := range sales {
		key := saleKey{sale.ExternalReceiptID, sale.ExternalTransactionID}
		if _, ok := s.sales[key]; ok {
			continue
		}
		sale.ID = uuid.New()
		sale.CreatedAt = s.now()
		c := *sale
		s.sales[key] = &c
		inserted++
	}
	return inserted, nil
}

// LatestSaleTimestamp returns the newest sale time, or nil
func (s *Store) LatestSaleTimestamp(_ context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("LatestSaleTimestamp"); err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, sale := range s.sales {
		if latest == nil || sale.TransactionTimestamp.After(*latest) {
			t := sale.TransactionTimestamp
			latest = &t
		}
	}
	return latest, nil
}

// ListSalesForEntity returns the sales linked to an entity, newest first
func (s *Store) ListSalesForEntity(_ context.Context, entityID uuid.UUID) ([]types.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SaleRecord
	for _, sale := range s.sales {
		if sale.EntityID == entityID {
			out = append(out, *sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionTimestamp.After(out[j].TransactionTimestamp) })
	return out, nil
}

// SaleCount returns the number of stored sale records
func (s *Store) SaleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sales)
}

// ---------------------------------------------------------------------------
// Credentials
// ---------------------------------------------------------------------------

// GetCredential returns the stored credential, or nil
func (s *Store) GetCredential(_ context.Context) (*types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetCredential"); err != nil {
		return nil, err
	}
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	c.Scopes = slices.Clone(s.cred.Scopes)
	return &c, nil
}

// ReplaceCredential overwrites the stored credential
func (s *Store) ReplaceCredential(_ context.Context, cred *types.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ReplaceCredential"); err != nil {
		return err
	}
	c := *cred
	c.Scopes = slices.Clone(cred.Scopes)
	s.cred = &c
	return nil
}

// ---------------------------------------------------------------------------
// Findings and reports
// ---------------------------------------------------------------------------

// SaveFindings stores research findings
func (s *Store) SaveFindings(_ context.Context, _ uuid.UUID, findings *types.ResearchFindings) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveFindings"); err != nil {
		return uuid.Nil, err
	}
	// round-trip through JSON so the stored copy is detached from the caller
	raw, err := json.Marshal(findings)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal findings: %w", err)
	}
	var c types.ResearchFindings
	if err := json.Unmarshal(raw, &c); err != nil {
		return uuid.Nil, fmt.Errorf("failed to unmarshal findings: %w", err)
	}
	id := uuid.New()
	s.findings[id] = &c
	return id, nil
}

// SaveReport stores a report
func (s *Store) SaveReport(_ context.Context, report *types.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveReport"); err != nil {
		return err
	}
	report.ID = uuid.New()
	report.CreatedAt = s.now()
	c := *report
	c.Opportunities = slices.Clone(report.Opportunities)
	s.reports[c.ID] = &c
	return nil
}

// GetReport returns a report, or nil
func (s *Store) GetReport(_ context.Context, id uuid.UUID) (*types.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	c := *r
	c.Opportunities = slices.Clone(r.Opportunities)
	return &c, nil
}
