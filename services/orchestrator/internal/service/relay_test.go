package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	"github.com/ali449/saga-orchestrator/pkg/kafka"
	"github.com/ali449/saga-orchestrator/pkg/retry"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/domain"
	"github.com/ali449/saga-orchestrator/services/orchestrator/internal/repository"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*kafka.Event
	topics    []string
	failures  map[string]int // event type -> remaining failures (-1 = always)
	calls     int
}

func (p *fakePublisher) Publish(_ context.Context, topic string, evt *kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if n, ok := p.failures[evt.EventType]; ok && n != 0 {
		if n > 0 {
			p.failures[evt.EventType] = n - 1
		}
		return errBoom
	}
	p.published = append(p.published, evt)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePublisher) publishedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	topics  []string
	events  []*kafka.Event
	classes []string
}

func (d *fakeDeadLetters) PublishEvent(_ context.Context, topic string, evt *kafka.Event, class string, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics = append(d.topics, topic)
	d.events = append(d.events, evt)
	d.classes = append(d.classes, class)
	return nil
}

type relayFixture struct {
	*fixture
	publisher *fakePublisher
	dlq       *fakeDeadLetters
	relay     *Relay
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	f := newFixture(t)
	rf := &relayFixture{
		fixture:   f,
		publisher: &fakePublisher{failures: map[string]int{}},
		dlq:       &fakeDeadLetters{},
	}
	rf.relay = NewRelay(f.store, rf.publisher, rf.dlq, RelayConfig{
		PollInterval: time.Millisecond,
		BatchSize:    10,
		Retry:        retry.Fixed(3, time.Millisecond),
	}, testLogger())
	rf.relay.SetFailureHandler(f.coord)
	return rf
}

// ============================================================================
// Drain Tests
// ============================================================================

func TestRelay_Drain_PublishesPending(t *testing.T) {
	rf := newRelayFixture(t)
	rf.startSaga(t, "order-1")
	rf.startSaga(t, "order-2")

	n, err := rf.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{contract.InventoryCommands, contract.InventoryCommands}, rf.publisher.topics)
	assert.Equal(t, "order-1", rf.publisher.published[0].AggregateID)

	for _, m := range rf.store.outboxMessages() {
		assert.Equal(t, domain.OutboxPublished, m.Status)
		assert.Equal(t, 1, m.Attempts)
		assert.NotNil(t, m.PublishedAt)
	}

	n, err = rf.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_Drain_RetriesTransientFailure(t *testing.T) {
	rf := newRelayFixture(t)
	rf.startSaga(t, "order-1")
	rf.publisher.failures[string(contract.ReserveStock)] = 2

	n, err := rf.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, rf.publisher.calls)

	m := rf.store.outboxMessages()[0]
	assert.Equal(t, domain.OutboxPublished, m.Status)
	assert.Equal(t, 3, m.Attempts)
}

func TestRelay_Drain_ExhaustedFailsSagaAndDeadLetters(t *testing.T) {
	rf := newRelayFixture(t)
	res := rf.startSaga(t, "order-1")
	rf.publisher.failures[string(contract.ReserveStock)] = -1

	n, err := rf.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 3, rf.publisher.calls)

	m := rf.store.outboxMessages()[0]
	assert.Equal(t, domain.OutboxDead, m.Status)
	assert.Equal(t, 3, m.Attempts)
	assert.Equal(t, "boom", m.LastError)

	assert.Equal(t, domain.StatusFailed, rf.store.instance(t, res.InstanceID).Status)

	require.Len(t, rf.dlq.events, 1)
	assert.Equal(t, contract.InventoryCommands, rf.dlq.topics[0])
	assert.Equal(t, kafka.DLQClassCommand, rf.dlq.classes[0])
	assert.Equal(t, string(contract.ReserveStock), rf.dlq.events[0].EventType)
}

func TestRelay_Drain_UnreadablePayloadMarkedDead(t *testing.T) {
	rf := newRelayFixture(t)
	require.NoError(t, rf.store.Do(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		return repos.Outbox.Enqueue(ctx, &domain.OutboxMessage{Topic: "t", MessageType: "X", Payload: []byte("{"), Status: domain.OutboxPending})
	}))

	n, err := rf.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.OutboxDead, rf.store.outboxMessages()[0].Status)
	assert.Empty(t, rf.dlq.events)
	assert.Zero(t, rf.publisher.calls)
}

// ============================================================================
// Notify / Run Tests
// ============================================================================

func TestRelay_Notify_NeverBlocks(t *testing.T) {
	rf := newRelayFixture(t)
	for i := 0; i < 10; i++ {
		rf.relay.Notify()
	}
	assert.Len(t, rf.relay.wake, 1)
}

func TestRelay_Run_DrainsOnNotify(t *testing.T) {
	defer goleak.VerifyNone(t)

	rf := newRelayFixture(t)
	rf.relay.cfg.PollInterval = time.Hour
	rf.engine.after.outbox = rf.relay

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rf.relay.Run(ctx) }()

	rf.startSaga(t, "order-1")
	require.Eventually(t, func() bool { return rf.publisher.publishedCount() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
