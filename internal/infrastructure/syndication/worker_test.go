package syndication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/domain/channel"
	"github.com/feedbridge/backend/internal/domain/shared"
)

// memoryOutboxRepo keeps canonical record copies under a mutex so worker
// goroutines in the lifecycle test never share struct memory with the test
type memoryOutboxRepo struct {
	mu       sync.Mutex
	records  map[uuid.UUID]*shared.OutboxRecord
	order    []uuid.UUID
	newerFor map[uuid.UUID]bool
}

func newMemoryOutboxRepo() *memoryOutboxRepo {
	return &memoryOutboxRepo{
		records:  make(map[uuid.UUID]*shared.OutboxRecord),
		newerFor: make(map[uuid.UUID]bool),
	}
}

func clone(r *shared.OutboxRecord) *shared.OutboxRecord {
	c := *r
	return &c
}

func (m *memoryOutboxRepo) Append(ctx context.Context, records ...*shared.OutboxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.ID] = clone(r)
		m.order = append(m.order, r.ID)
	}
	return nil
}

func (m *memoryOutboxRepo) ClaimBatch(ctx context.Context, lane shared.Lane, limit int) ([]*shared.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []*shared.OutboxRecord
	for _, id := range m.order {
		if len(claimed) >= limit {
			break
		}
		r := m.records[id]
		if r.Lane == lane && r.Status == shared.OutboxStatusPending {
			if err := r.MarkProcessing(); err != nil {
				return nil, err
			}
			claimed = append(claimed, clone(r))
		}
	}
	return claimed, nil
}

func (m *memoryOutboxRepo) RequeueDue(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.Status == shared.OutboxStatusError && r.NextAttemptAt != nil && !r.NextAttemptAt.After(now) {
			r.Status = shared.OutboxStatusPending
			n++
		}
	}
	return n, nil
}

func (m *memoryOutboxRepo) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.records {
		if r.Status == shared.OutboxStatusProcessing && r.UpdatedAt.Before(olderThan) {
			r.Status = shared.OutboxStatusPending
			n++
		}
	}
	return n, nil
}

func (m *memoryOutboxRepo) HasNewerPending(ctx context.Context, record *shared.OutboxRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newerFor[record.ID], nil
}

func (m *memoryOutboxRepo) Update(ctx context.Context, record *shared.OutboxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[record.ID]; !ok {
		return shared.ErrNotFound
	}
	m.records[record.ID] = clone(record)
	return nil
}

func (m *memoryOutboxRepo) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return clone(r), nil
}

func (m *memoryOutboxRepo) FindDead(ctx context.Context, page, pageSize int) ([]*shared.OutboxRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dead []*shared.OutboxRecord
	for _, r := range m.records {
		if r.Status == shared.OutboxStatusFailed {
			dead = append(dead, clone(r))
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].UpdatedAt.After(dead[j].UpdatedAt) })
	return dead, int64(len(dead)), nil
}

func (m *memoryOutboxRepo) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[shared.OutboxStatus]int64)
	for _, r := range m.records {
		counts[r.Status]++
	}
	return counts, nil
}

type stubChannels struct {
	byID map[uuid.UUID]*channel.SalesChannel
}

func (s *stubChannels) ListActive(ctx context.Context) ([]*channel.SalesChannel, error) {
	var out []*channel.SalesChannel
	for _, ch := range s.byID {
		if ch.Active {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *stubChannels) FindByID(ctx context.Context, id uuid.UUID) (*channel.SalesChannel, error) {
	ch, ok := s.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return ch, nil
}

func (s *stubChannels) Save(ctx context.Context, ch *channel.SalesChannel) error {
	s.byID[ch.ID] = ch
	return nil
}

type stubProjector struct {
	ineligible map[uuid.UUID]bool
	missing    map[uuid.UUID]bool
	priceItems []channel.PriceItem
	stockItems []channel.StockItem
}

func (p *stubProjector) BuildProjection(ctx context.Context, modelID uuid.UUID, ch *channel.SalesChannel) (*channel.Projection, error) {
	if p.missing[modelID] {
		return nil, shared.ErrNotFound
	}
	if p.ineligible[modelID] {
		return nil, nil
	}
	payload, _ := json.Marshal(map[string]string{"model": modelID.String()})
	return &channel.Projection{ModelID: modelID, Payload: payload}, nil
}

func (p *stubProjector) BuildPriceItems(ctx context.Context, modelIDs []uuid.UUID, ch *channel.SalesChannel) ([]channel.PriceItem, error) {
	return p.priceItems, nil
}

func (p *stubProjector) BuildStockItems(ctx context.Context, modelIDs []uuid.UUID, ch *channel.SalesChannel) ([]channel.StockItem, error) {
	return p.stockItems, nil
}

type stubTransport struct {
	mu          sync.Mutex
	pushErr     error
	batchCalls  int
	batchModels int
	priceCalls  int
	stockCalls  int
}

func (t *stubTransport) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushErr = err
}

func (t *stubTransport) counts() (batch, models, prices, stocks int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batchCalls, t.batchModels, t.priceCalls, t.stockCalls
}

func (t *stubTransport) Push(ctx context.Context, modelID uuid.UUID, projection *channel.Projection, ch *channel.SalesChannel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pushErr
}

func (t *stubTransport) PushBatch(ctx context.Context, projections map[uuid.UUID]*channel.Projection, ch *channel.SalesChannel) (map[uuid.UUID]error, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batchCalls++
	t.batchModels += len(projections)
	results := make(map[uuid.UUID]error, len(projections))
	for modelID := range projections {
		results[modelID] = t.pushErr
	}
	return results, nil
}

func (t *stubTransport) PushPrices(ctx context.Context, items []channel.PriceItem, ch *channel.SalesChannel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.priceCalls++
	return t.pushErr
}

func (t *stubTransport) PushStocks(ctx context.Context, items []channel.StockItem, ch *channel.SalesChannel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stockCalls++
	return t.pushErr
}

func (t *stubTransport) PushCategoryTree(ctx context.Context, payload json.RawMessage, ch *channel.SalesChannel) error {
	return nil
}

func (t *stubTransport) HealthCheck(ctx context.Context, ch *channel.SalesChannel) error {
	return nil
}

type stubRegistry struct {
	projector channel.Projector
	transport channel.Transport
	err       error
}

func (s *stubRegistry) GetSyndicator(ch *channel.SalesChannel) (channel.Projector, error) {
	return s.projector, s.err
}

func (s *stubRegistry) GetAPIClient(ch *channel.SalesChannel) (channel.Transport, error) {
	return s.transport, s.err
}

type recordingUploader struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
}

func (u *recordingUploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	u.bodies = append(u.bodies, body)
	return nil
}

type fixture struct {
	repo      *memoryOutboxRepo
	channels  *stubChannels
	projector *stubProjector
	transport *stubTransport
	uploader  *recordingUploader
	worker    *Worker
	channel   *channel.SalesChannel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ch := &channel.SalesChannel{
		ID:     uuid.New(),
		Name:   "shop",
		Driver: channel.DriverStorefront,
		Active: true,
	}
	f := &fixture{
		repo:      newMemoryOutboxRepo(),
		channels:  &stubChannels{byID: map[uuid.UUID]*channel.SalesChannel{ch.ID: ch}},
		projector: &stubProjector{ineligible: make(map[uuid.UUID]bool), missing: make(map[uuid.UUID]bool)},
		transport: &stubTransport{},
		uploader:  &recordingUploader{},
		channel:   ch,
	}
	registry := &stubRegistry{projector: f.projector, transport: f.transport}
	f.worker = NewWorker(
		f.repo,
		f.channels,
		registry,
		NewDeadLetterArchiver(f.uploader),
		Options{
			BatchSize:    10,
			PollInterval: 10 * time.Millisecond,
			Backoff:      shared.BackoffPolicy{Base: time.Second, Max: time.Minute},
		},
		zap.NewNop(),
	)
	return f
}

func (f *fixture) addRecord(t *testing.T, lane shared.Lane, modelID uuid.UUID) uuid.UUID {
	t.Helper()
	record := shared.NewOutboxRecord(lane, "feed_ingested", shared.EntityTypeModel, modelID, modelID, f.channel.ID)
	require.NoError(t, f.repo.Append(context.Background(), record))
	return record.ID
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *shared.OutboxRecord {
	t.Helper()
	record, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return record
}

func TestRunCycle_ContentDelivery(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, shared.LaneContent, uuid.New())

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusSuccess, record.Status)
	assert.NotNil(t, record.ProcessedAt)
	batch, models, _, _ := f.transport.counts()
	assert.Equal(t, 1, batch)
	assert.Equal(t, 1, models)
}

func TestRunCycle_CoalescesModelsIntoOneBatch(t *testing.T) {
	f := newFixture(t)
	first := f.addRecord(t, shared.LaneContent, uuid.New())
	second := f.addRecord(t, shared.LaneContent, uuid.New())

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	batch, models, _, _ := f.transport.counts()
	assert.Equal(t, 1, batch)
	assert.Equal(t, 2, models)
	assert.Equal(t, shared.OutboxStatusSuccess, f.reload(t, first).Status)
	assert.Equal(t, shared.OutboxStatusSuccess, f.reload(t, second).Status)
}

func TestRunCycle_SupersededRecordIsSkipped(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, shared.LaneContent, uuid.New())
	f.repo.newerFor[id] = true

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusSuccess, record.Status)
	assert.Contains(t, record.LastError, "superseded")
	batch, _, _, _ := f.transport.counts()
	assert.Equal(t, 0, batch, "stale record must not be delivered")
}

func TestRunCycle_IneligibleModelIsSkipped(t *testing.T) {
	f := newFixture(t)
	modelID := uuid.New()
	f.projector.ineligible[modelID] = true
	id := f.addRecord(t, shared.LaneContent, modelID)

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusSuccess, record.Status)
	assert.Contains(t, record.LastError, "not eligible")
	batch, _, _, _ := f.transport.counts()
	assert.Equal(t, 0, batch)
}

func TestRunCycle_DeletedModelIsSkipped(t *testing.T) {
	f := newFixture(t)
	modelID := uuid.New()
	f.projector.missing[modelID] = true
	id := f.addRecord(t, shared.LaneContent, modelID)

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusSuccess, record.Status)
	assert.Contains(t, record.LastError, "no longer exists")
}

func TestRunCycle_TransientFailureBacksOff(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, shared.LaneContent, uuid.New())
	f.transport.setErr(channel.NewTransientError(errors.New("connection refused")))

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusError, record.Status)
	assert.Equal(t, 1, record.RetryCount)
	require.NotNil(t, record.NextAttemptAt)
	assert.True(t, record.NextAttemptAt.After(time.Now()))
}

func TestRunCycle_RetryAfterExtendsBackoff(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, shared.LaneContent, uuid.New())
	te := channel.NewTransientError(errors.New("throttled"))
	te.RetryAfter = 10 * time.Minute
	f.transport.setErr(te)

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	require.NotNil(t, record.NextAttemptAt)
	assert.True(t, record.NextAttemptAt.After(time.Now().Add(9*time.Minute)))
}

func TestRunCycle_AttemptCeilingForcesFailed(t *testing.T) {
	f := newFixture(t)
	modelID := uuid.New()
	record := shared.NewOutboxRecord(shared.LaneContent, "feed_ingested", shared.EntityTypeModel, modelID, modelID, f.channel.ID)
	record.MaxRetries = 2
	record.RetryCount = 1
	require.NoError(t, f.repo.Append(context.Background(), record))
	f.transport.setErr(channel.NewTransientError(errors.New("still down")))

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	got := f.reload(t, record.ID)
	assert.Equal(t, shared.OutboxStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
}

func TestRunCycle_ValidationFailureDeadLetters(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, shared.LaneContent, uuid.New())
	f.transport.setErr(&channel.ValidationError{
		StatusCode:  http.StatusUnprocessableEntity,
		Message:     "missing title",
		PayloadDump: []byte(`{"name":""}`),
	})

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusFailed, record.Status)
	assert.Equal(t, http.StatusUnprocessableEntity, record.HTTPStatus)
	assert.Equal(t, 0, record.RetryCount, "terminal rejection must not spend retries")
	assert.Equal(t, []byte(`{"name":""}`), record.PayloadDump)

	require.Len(t, f.uploader.keys, 1)
	assert.Equal(t, fmt.Sprintf("deadletters/%s.json", record.ID), f.uploader.keys[0])
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(f.uploader.bodies[0], &envelope))
	assert.Equal(t, record.ID.String(), envelope["record_id"])
	assert.Equal(t, "missing title", envelope["last_error"])
}

func TestRunCycle_PriceLaneBatches(t *testing.T) {
	f := newFixture(t)
	first := f.addRecord(t, shared.LanePrice, uuid.New())
	second := f.addRecord(t, shared.LanePrice, uuid.New())
	f.projector.priceItems = []channel.PriceItem{
		{ExternalID: "SKU-1", Price: decimal.NewFromInt(199)},
	}

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LanePrice))

	_, _, prices, _ := f.transport.counts()
	assert.Equal(t, 1, prices)
	assert.Equal(t, shared.OutboxStatusSuccess, f.reload(t, first).Status)
	assert.Equal(t, shared.OutboxStatusSuccess, f.reload(t, second).Status)
}

func TestRunCycle_StockLaneSkipsWhenNothingEligible(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, shared.LaneStock, uuid.New())
	f.projector.stockItems = nil

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneStock))

	_, _, _, stocks := f.transport.counts()
	assert.Equal(t, 0, stocks)
	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusSuccess, record.Status)
	assert.Contains(t, record.LastError, "no items eligible")
}

func TestRunCycle_LaneIsolation(t *testing.T) {
	f := newFixture(t)
	content := f.addRecord(t, shared.LaneContent, uuid.New())
	price := f.addRecord(t, shared.LanePrice, uuid.New())
	f.projector.priceItems = []channel.PriceItem{{ExternalID: "SKU-1", Price: decimal.NewFromInt(10)}}
	f.transport.setErr(channel.NewTransientError(errors.New("price endpoint down")))

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LanePrice))
	assert.Equal(t, shared.OutboxStatusError, f.reload(t, price).Status)
	assert.Equal(t, shared.OutboxStatusPending, f.reload(t, content).Status, "other lanes stay untouched")

	f.transport.setErr(nil)
	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))
	assert.Equal(t, shared.OutboxStatusSuccess, f.reload(t, content).Status)
}

func TestRunCycle_InactiveChannelSkips(t *testing.T) {
	f := newFixture(t)
	f.channel.Active = false
	id := f.addRecord(t, shared.LaneContent, uuid.New())

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	record := f.reload(t, id)
	assert.Equal(t, shared.OutboxStatusSuccess, record.Status)
	assert.Contains(t, record.LastError, "inactive")
}

func TestRunCycle_RequeuesDueRecordsFirst(t *testing.T) {
	f := newFixture(t)
	modelID := uuid.New()
	record := shared.NewOutboxRecord(shared.LaneContent, "feed_ingested", shared.EntityTypeModel, modelID, modelID, f.channel.ID)
	record.Status = shared.OutboxStatusError
	past := time.Now().Add(-time.Minute)
	record.NextAttemptAt = &past
	require.NoError(t, f.repo.Append(context.Background(), record))

	require.NoError(t, f.worker.runCycle(context.Background(), shared.LaneContent))

	assert.Equal(t, shared.OutboxStatusSuccess, f.reload(t, record.ID).Status)
	batch, _, _, _ := f.transport.counts()
	assert.Equal(t, 1, batch)
}

func TestWorkerStartStop(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, shared.LaneContent, uuid.New())

	ctx := context.Background()
	require.NoError(t, f.worker.Start(ctx))
	assert.Error(t, f.worker.Start(ctx), "double start must fail")

	assert.Eventually(t, func() bool {
		return f.reload(t, id).IsTerminal()
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.worker.Stop(stopCtx))
	require.NoError(t, f.worker.Stop(stopCtx), "stop is idempotent")
}
