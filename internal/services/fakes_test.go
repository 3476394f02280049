package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"example.com/pharmatrace/services/provenance/internal/models"
	"example.com/pharmatrace/services/provenance/internal/repositories"
	"example.com/pharmatrace/services/provenance/internal/search"
)

// In-memory repository fakes. They mirror the storage semantics the real
// implementations get from Postgres: unique keys, compare-and-set
// transitions, best-effort bulk inserts.

type fakeBatchRepo struct {
	mu      sync.Mutex
	batches map[string]*models.Batch
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: make(map[string]*models.Batch)}
}

func (r *fakeBatchRepo) Create(ctx context.Context, batch *models.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batch.BatchID]; ok {
		return repositories.ErrDuplicateKey
	}
	clone := *batch
	r.batches[batch.BatchID] = &clone
	return nil
}

func (r *fakeBatchRepo) GetByID(ctx context.Context, batchID string) (*models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	clone := *batch
	return &clone, nil
}

func (r *fakeBatchRepo) List(ctx context.Context, filter repositories.BatchFilter, page, limit int) ([]models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Batch
	for _, batch := range r.batches {
		if filter.ManufacturerID != "" && batch.ManufacturerID != filter.ManufacturerID {
			continue
		}
		out = append(out, *batch)
	}
	return out, nil
}

func (r *fakeBatchRepo) ConfirmMint(ctx context.Context, batchID, mintTxHash, merkleRoot string, inserted int, mintedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok || batch.Status != models.BatchStatusActive {
		return repositories.ErrNotFound
	}
	batch.Status = models.BatchStatusMinted
	batch.MintTxHash = mintTxHash
	batch.MerkleRoot = merkleRoot
	batch.BottleCount += inserted
	batch.MintedAt = &mintedAt
	return nil
}

func (r *fakeBatchRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.batches)), nil
}

func (r *fakeBatchRepo) TotalBottles(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, batch := range r.batches {
		total += int64(batch.BottleCount)
	}
	return total, nil
}

func (r *fakeBatchRepo) ManufacturerOverview(ctx context.Context, manufacturerID string, from, to *time.Time) ([]repositories.ManufacturerTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := make(map[string]*repositories.ManufacturerTotals)
	for _, batch := range r.batches {
		if manufacturerID != "" && batch.ManufacturerID != manufacturerID {
			continue
		}
		row, ok := totals[batch.ManufacturerID]
		if !ok {
			row = &repositories.ManufacturerTotals{ManufacturerID: batch.ManufacturerID}
			totals[batch.ManufacturerID] = row
		}
		row.BatchCount++
		row.BottleCount += int64(batch.BottleCount)
	}
	var out []repositories.ManufacturerTotals
	for _, row := range totals {
		out = append(out, *row)
	}
	return out, nil
}

type fakeBottleRepo struct {
	mu      sync.Mutex
	bottles map[string]*models.Bottle
	byToken map[string]string
}

func newFakeBottleRepo() *fakeBottleRepo {
	return &fakeBottleRepo{
		bottles: make(map[string]*models.Bottle),
		byToken: make(map[string]string),
	}
}

func (r *fakeBottleRepo) Create(ctx context.Context, bottle *models.Bottle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts(bottle) {
		return repositories.ErrDuplicateKey
	}
	r.insert(bottle)
	return nil
}

func (r *fakeBottleRepo) BulkCreate(ctx context.Context, bottles []models.Bottle) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := 0
	for i := range bottles {
		if r.conflicts(&bottles[i]) {
			continue
		}
		r.insert(&bottles[i])
		inserted++
	}
	return inserted, nil
}

func (r *fakeBottleRepo) conflicts(bottle *models.Bottle) bool {
	if _, ok := r.bottles[bottle.BottleID]; ok {
		return true
	}
	_, ok := r.byToken[bottle.QRTokenHash]
	return ok
}

func (r *fakeBottleRepo) insert(bottle *models.Bottle) {
	clone := *bottle
	r.bottles[bottle.BottleID] = &clone
	r.byToken[bottle.QRTokenHash] = bottle.BottleID
}

func (r *fakeBottleRepo) GetByID(ctx context.Context, bottleID string) (*models.Bottle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bottle, ok := r.bottles[bottleID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	clone := *bottle
	return &clone, nil
}

func (r *fakeBottleRepo) GetByTokenHash(ctx context.Context, qrTokenHash string) (*models.Bottle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bottleID, ok := r.byToken[qrTokenHash]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	clone := *r.bottles[bottleID]
	return &clone, nil
}

func (r *fakeBottleRepo) List(ctx context.Context, filter repositories.BottleFilter, page, limit int) ([]models.Bottle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Bottle
	for _, bottle := range r.bottles {
		if filter.BatchID != "" && bottle.BatchID != filter.BatchID {
			continue
		}
		if filter.State != "" && bottle.State != filter.State {
			continue
		}
		out = append(out, *bottle)
	}
	return out, nil
}

func (r *fakeBottleRepo) ListByBatch(ctx context.Context, batchID string, offset, limit int) ([]models.Bottle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []models.Bottle
	for _, bottle := range r.bottles {
		if bottle.BatchID == batchID {
			matched = append(matched, *bottle)
		}
	}
	for i := 0; i < len(matched); i++ {
		for j := i + 1; j < len(matched); j++ {
			if matched[j].SerialNo < matched[i].SerialNo {
				matched[i], matched[j] = matched[j], matched[i]
			}
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (r *fakeBottleRepo) TransitionState(ctx context.Context, bottleID, fromState, toState string, extra map[string]interface{}) (*models.Bottle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bottle, ok := r.bottles[bottleID]
	if !ok || bottle.State != fromState {
		return nil, nil
	}
	bottle.State = toState
	for key, value := range extra {
		switch key {
		case "claimed_at":
			if at, ok := value.(time.Time); ok {
				bottle.ClaimedAt = &at
			}
		case "claimed_by":
			if by, ok := value.(*string); ok {
				bottle.ClaimedBy = by
			}
		case "reset_at":
			if at, ok := value.(time.Time); ok {
				bottle.ResetAt = &at
			}
		}
	}
	clone := *bottle
	return &clone, nil
}

type fakeScanLogRepo struct {
	mu      sync.Mutex
	entries []models.ScanLog
}

func newFakeScanLogRepo() *fakeScanLogRepo {
	return &fakeScanLogRepo{}
}

func (r *fakeScanLogRepo) Create(ctx context.Context, entry *models.ScanLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeScanLogRepo) ListUnindexed(ctx context.Context, limit int) ([]models.ScanLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ScanLog
	for _, entry := range r.entries {
		if !entry.Indexed {
			out = append(out, entry)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeScanLogRepo) MarkIndexed(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := make(map[string]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for i := range r.entries {
		if marked[r.entries[i].ID.String()] {
			r.entries[i].Indexed = true
		}
	}
	return nil
}

func (r *fakeScanLogRepo) CountByTokenHash(ctx context.Context, qrTokenHash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, entry := range r.entries {
		if entry.QRTokenHash == qrTokenHash {
			count++
		}
	}
	return count, nil
}

func (r *fakeScanLogRepo) all() []models.ScanLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ScanLog, len(r.entries))
	copy(out, r.entries)
	return out
}

type fakeResetRequestRepo struct {
	mu       sync.Mutex
	requests []*models.ResetRequest
}

func newFakeResetRequestRepo() *fakeResetRequestRepo {
	return &fakeResetRequestRepo{}
}

func (r *fakeResetRequestRepo) Create(ctx context.Context, request *models.ResetRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *request
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	r.requests = append(r.requests, &clone)
	return nil
}

func (r *fakeResetRequestRepo) CountByBottle(ctx context.Context, bottleID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, request := range r.requests {
		if request.BottleID == bottleID {
			count++
		}
	}
	return count, nil
}

func (r *fakeResetRequestRepo) LatestByBottle(ctx context.Context, bottleID string) (*models.ResetRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.ResetRequest
	for _, request := range r.requests {
		if request.BottleID != bottleID {
			continue
		}
		if latest == nil || request.CreatedAt.After(latest.CreatedAt) {
			latest = request
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (r *fakeResetRequestRepo) ApprovePending(ctx context.Context, bottleID string, approvedBy *string) (*models.ResetRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending *models.ResetRequest
	for _, request := range r.requests {
		if request.BottleID != bottleID || request.Status != models.ResetStatusPending {
			continue
		}
		if pending == nil || request.CreatedAt.After(pending.CreatedAt) {
			pending = request
		}
	}
	if pending == nil {
		return nil, nil
	}
	pending.Status = models.ResetStatusApproved
	pending.ApprovedBy = approvedBy
	clone := *pending
	return &clone, nil
}

type fakeAuditLogRepo struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func newFakeAuditLogRepo() *fakeAuditLogRepo {
	return &fakeAuditLogRepo{}
}

func (r *fakeAuditLogRepo) Create(ctx context.Context, entry *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditLogRepo) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Newest first, like the real repository
	var out []models.AuditLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].EntityType == entityType && r.entries[i].EntityID == entityID {
			out = append(out, r.entries[i])
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []interface{}
	fail   bool
}

func (p *fakePublisher) SendMessage(ctx context.Context, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return context.DeadlineExceeded
	}
	p.events = append(p.events, body)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeIndexer struct {
	mu   sync.Mutex
	docs map[string]search.ScanDocument
	fail bool
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{docs: make(map[string]search.ScanDocument)}
}

func (f *fakeIndexer) IndexScan(ctx context.Context, doc search.ScanDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return context.DeadlineExceeded
	}
	f.docs[doc.ScanLogID] = doc
	return nil
}

// fakeBatchCache mirrors the JSON round-trip of the Redis cache so cached
// copies are value snapshots, not shared pointers
type fakeBatchCache struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newFakeBatchCache() *fakeBatchCache {
	return &fakeBatchCache{values: make(map[string][]byte)}
}

func (c *fakeBatchCache) Enabled() bool { return true }

func (c *fakeBatchCache) Get(ctx context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.values[key]
	if !ok {
		return errors.New("key not found in cache")
	}
	return json.Unmarshal(data, value)
}

func (c *fakeBatchCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = data
	return nil
}

func (c *fakeBatchCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *fakeBatchCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}
