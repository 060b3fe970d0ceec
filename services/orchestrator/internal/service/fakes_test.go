package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	apperrors "github.com/ali449/saga-orchestrator/pkg/errors"
	"github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory unit of work
// ---------------------------------------------------------------------------

type memState struct {
	instances map[string]*domain.Instance
	outbox    []domain.OutboxMessage
	timeouts  map[string]domain.PendingTimeout
	nextID    int64
}

func (s memState) clone() memState {
	out := memState{
		instances: make(map[string]*domain.Instance, len(s.instances)),
		outbox:    append([]domain.OutboxMessage(nil), s.outbox...),
		timeouts:  make(map[string]domain.PendingTimeout, len(s.timeouts)),
		nextID:    s.nextID,
	}
	for k, v := range s.instances {
		out.instances[k] = cloneInstance(v)
	}
	for k, v := range s.timeouts {
		out.timeouts[k] = v
	}
	return out
}

func cloneInstance(in *domain.Instance) *domain.Instance {
	cp := *in
	cp.Steps = append([]domain.StepInstance(nil), in.Steps...)
	return &cp
}

// memStore implements repository.UnitOfWork. A failed fn rolls the state
// back to what it was before Do.
type memStore struct {
	mu    sync.Mutex
	state memState

	// failEnqueue makes every outbox insert fail.
	failEnqueue error
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		instances: map[string]*domain.Instance{},
		timeouts:  map[string]domain.PendingTimeout{},
	}}
}

func (m *memStore) Do(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.state.clone()
	if err := fn(ctx, m.repos()); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (m *memStore) repos() repository.Repositories {
	return repository.Repositories{
		Instances: &memInstances{m},
		Outbox:    &memOutbox{m},
		Timeouts:  &memTimeouts{m},
	}
}

// timeoutRepo returns a timeout repository usable outside Do.
func (m *memStore) timeoutRepo() repository.TimeoutRepository {
	return &lockedTimeouts{m}
}

func (m *memStore) instance(t *testing.T, id string) *domain.Instance {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.state.instances[id]
	require.True(t, ok, "instance %s not stored", id)
	return cloneInstance(inst)
}

func (m *memStore) instanceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.instances)
}

func (m *memStore) outboxTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.state.outbox))
	for _, msg := range m.state.outbox {
		out = append(out, msg.MessageType)
	}
	return out
}

func (m *memStore) outboxMessages() []domain.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.OutboxMessage(nil), m.state.outbox...)
}

func (m *memStore) hasTimeout(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.state.timeouts[eventID]
	return ok
}

type memInstances struct{ m *memStore }

func (r *memInstances) Create(_ context.Context, inst *domain.Instance) error {
	for _, other := range r.m.state.instances {
		if other.TriggerEventID == inst.TriggerEventID ||
			(other.AggregateID == inst.AggregateID && !other.IsTerminal()) {
			return apperrors.AlreadyExists("saga_instance", "aggregate_id", inst.AggregateID)
		}
	}
	r.m.state.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (r *memInstances) GetByID(_ context.Context, id string, _ bool) (*domain.Instance, error) {
	inst, ok := r.m.state.instances[id]
	if !ok {
		return nil, apperrors.NotFound("saga_instance", id)
	}
	return cloneInstance(inst), nil
}

func (r *memInstances) GetActiveByAggregate(_ context.Context, aggregateID string) (*domain.Instance, error) {
	for _, inst := range r.m.state.instances {
		if inst.AggregateID == aggregateID && !inst.IsTerminal() {
			return cloneInstance(inst), nil
		}
	}
	return nil, apperrors.NotFound("saga_instance", aggregateID)
}

func (r *memInstances) ListByAggregate(_ context.Context, aggregateID string, limit, offset int) ([]domain.Instance, int, error) {
	var all []domain.Instance
	for _, inst := range r.m.state.instances {
		if inst.AggregateID == aggregateID {
			all = append(all, *cloneInstance(inst))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []domain.Instance{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memInstances) Update(_ context.Context, inst *domain.Instance) error {
	if _, ok := r.m.state.instances[inst.ID]; !ok {
		return apperrors.NotFound("saga_instance", inst.ID)
	}
	r.m.state.instances[inst.ID] = cloneInstance(inst)
	return nil
}

type memOutbox struct{ m *memStore }

func (r *memOutbox) Enqueue(_ context.Context, msg *domain.OutboxMessage) error {
	if r.m.failEnqueue != nil {
		return r.m.failEnqueue
	}
	r.m.state.nextID++
	msg.ID = r.m.state.nextID
	r.m.state.outbox = append(r.m.state.outbox, *msg)
	return nil
}

func (r *memOutbox) FetchPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	var out []domain.OutboxMessage
	for _, msg := range r.m.state.outbox {
		if msg.Status == domain.OutboxPending && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *memOutbox) set(id int64, fn func(*domain.OutboxMessage)) error {
	for i := range r.m.state.outbox {
		if r.m.state.outbox[i].ID == id {
			fn(&r.m.state.outbox[i])
			return nil
		}
	}
	return apperrors.NotFound("outbox_message", "")
}

func (r *memOutbox) MarkPublished(_ context.Context, id int64, attempts int, at time.Time) error {
	return r.set(id, func(m *domain.OutboxMessage) {
		m.Status = domain.OutboxPublished
		m.Attempts = attempts
		m.PublishedAt = &at
	})
}

func (r *memOutbox) MarkDead(_ context.Context, id int64, attempts int, lastErr string) error {
	return r.set(id, func(m *domain.OutboxMessage) {
		m.Status = domain.OutboxDead
		m.Attempts = attempts
		m.LastError = lastErr
	})
}

type memTimeouts struct{ m *memStore }

func (r *memTimeouts) Insert(_ context.Context, pt *domain.PendingTimeout) error {
	if _, ok := r.m.state.timeouts[pt.EventID]; !ok {
		r.m.state.timeouts[pt.EventID] = *pt
	}
	return nil
}

func (r *memTimeouts) Get(_ context.Context, eventID string) (*domain.PendingTimeout, error) {
	pt, ok := r.m.state.timeouts[eventID]
	if !ok {
		return nil, apperrors.NotFound("pending_timeout", eventID)
	}
	return &pt, nil
}

func (r *memTimeouts) Delete(_ context.Context, eventID string) error {
	delete(r.m.state.timeouts, eventID)
	return nil
}

func (r *memTimeouts) ListAll(_ context.Context) ([]domain.PendingTimeout, error) {
	out := []domain.PendingTimeout{}
	for _, pt := range r.m.state.timeouts {
		out = append(out, pt)
	}
	return out, nil
}

func (r *memTimeouts) ListDue(_ context.Context, before time.Time, limit int) ([]domain.PendingTimeout, error) {
	out := []domain.PendingTimeout{}
	for _, pt := range r.m.state.timeouts {
		if !pt.Deadline.After(before) {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// lockedTimeouts takes the store lock around every call.
type lockedTimeouts struct{ m *memStore }

func (r *lockedTimeouts) Insert(ctx context.Context, pt *domain.PendingTimeout) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return (&memTimeouts{r.m}).Insert(ctx, pt)
}

func (r *lockedTimeouts) Get(ctx context.Context, eventID string) (*domain.PendingTimeout, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return (&memTimeouts{r.m}).Get(ctx, eventID)
}

func (r *lockedTimeouts) Delete(ctx context.Context, eventID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return (&memTimeouts{r.m}).Delete(ctx, eventID)
}

func (r *lockedTimeouts) ListAll(ctx context.Context) ([]domain.PendingTimeout, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return (&memTimeouts{r.m}).ListAll(ctx)
}

func (r *lockedTimeouts) ListDue(ctx context.Context, before time.Time, limit int) ([]domain.PendingTimeout, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return (&memTimeouts{r.m}).ListDue(ctx, before, limit)
}

// ---------------------------------------------------------------------------
// Redis-side fakes
// ---------------------------------------------------------------------------

type fakeIndex struct {
	mu      sync.Mutex
	entries map[string]time.Time

	// addFailures is the number of upcoming Add calls that fail with errBoom.
	addFailures int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: map[string]time.Time{}}
}

func (f *fakeIndex) Add(_ context.Context, eventID string, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addFailures > 0 {
		f.addFailures--
		return errBoom
	}
	f.entries[eventID] = deadline
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, eventID)
	return nil
}

func (f *fakeIndex) PopDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []string
	for id, at := range f.entries {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	if len(due) > limit {
		due = due[:limit]
	}
	for _, id := range due {
		delete(f.entries, id)
	}
	return due, nil
}

func (f *fakeIndex) has(eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[eventID]
	return ok
}

type fakeStatus struct {
	mu    sync.Mutex
	snaps []*contract.Snapshot
}

func (f *fakeStatus) Publish(_ context.Context, snap *contract.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeStatus) last() *contract.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		return nil
	}
	return f.snaps[len(f.snaps)-1]
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeNotifier) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memStore
	index    *fakeIndex
	status   *fakeStatus
	notifier *fakeNotifier
	timeouts *TimeoutService
	engine   *Engine
	coord    *Coordinator
	registry *domain.Registry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := domain.NewRegistry(domain.OrderStockSaga(time.Minute))
	require.NoError(t, err)

	f := &fixture{
		store:    newMemStore(),
		index:    newFakeIndex(),
		status:   &fakeStatus{},
		notifier: &fakeNotifier{},
		registry: registry,
	}
	f.timeouts = NewTimeoutService(f.store.timeoutRepo(), f.index, TimeoutConfig{PollInterval: time.Second, BatchSize: 10}, testLogger())
	f.timeouts.now = func() time.Time { return testNow }
	f.engine = NewEngine(registry, f.store, f.timeouts, f.status, f.notifier, testLogger())
	f.engine.now = func() time.Time { return testNow }
	f.coord = NewCoordinator(registry, f.store, f.timeouts, f.status, f.notifier, testLogger())
	f.coord.now = func() time.Time { return testNow }
	f.timeouts.SetFailureHandler(f.coord)
	return f
}

func orderCreated(aggregateID string) *kafka.Event {
	payload, _ := json.Marshal(contract.OrderPayload{StockID: "stock-1", Quantity: 2})
	return &kafka.Event{
		EventID:       "evt-" + aggregateID,
		EventType:     string(contract.OrderCreated),
		AggregateID:   aggregateID,
		AggregateType: contract.AggregateOrder,
		Version:       1,
		OccurredAt:    testNow,
		Source:        "order-service",
		Payload:       payload,
	}
}

// startSaga runs ORDER_CREATED and returns the result.
func (f *fixture) startSaga(t *testing.T, aggregateID string) *Result {
	t.Helper()
	res, err := f.engine.Run(context.Background(), orderCreated(aggregateID))
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

// reply answers the single outbound command of res with eventType.
func (f *fixture) reply(t *testing.T, res *Result, eventType contract.EventType) *Result {
	t.Helper()
	require.Len(t, res.Outbound, 1)
	next, err := f.engine.Run(context.Background(), res.Outbound[0].Reply(string(eventType), "test-service"))
	require.NoError(t, err)
	return next
}

var errBoom = errors.New("boom")
