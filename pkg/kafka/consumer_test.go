package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeReader struct {
	mu        sync.Mutex
	committed []kafka.Message
	closed    int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

type fakeDLQ struct {
	msgs   []kafka.Message
	errs   []error
	groups []string
}

func (d *fakeDLQ) Publish(_ context.Context, msg kafka.Message, lastErr error, group string) error {
	d.msgs = append(d.msgs, msg)
	d.errs = append(d.errs, lastErr)
	d.groups = append(d.groups, group)
	return nil
}

func testMessage(t *testing.T, event *Event) kafka.Message {
	t.Helper()
	data, err := event.Marshal()
	require.NoError(t, err)
	return kafka.Message{Topic: "ecommerce.inventory.events", Key: []byte(event.AggregateID), Value: data}
}

func newTestConsumer(r messageReader, cfg ConsumerConfig, handler Handler) *Consumer {
	cfg.RetryBackoff = time.Millisecond
	return newConsumer(r, cfg, "test-topic", handler, testLogger())
}

// ---------------------------------------------------------------------------
// process
// ---------------------------------------------------------------------------

func TestConsumer_Process_SuccessCommits(t *testing.T) {
	reader := &fakeReader{}
	calls := 0
	c := newTestConsumer(reader, ConsumerConfig{GroupID: "g"}, func(ctx context.Context, e *Event) error {
		calls++
		return nil
	})

	msg := testMessage(t, &Event{EventID: "e1", EventType: "STOCK_RESERVED", AggregateID: "order-1"})
	c.process(context.Background(), msg)

	assert.Equal(t, 1, calls)
	assert.Len(t, reader.committed, 1)
}

func TestConsumer_Process_RetriesThenSucceeds(t *testing.T) {
	reader := &fakeReader{}
	calls := 0
	c := newTestConsumer(reader, ConsumerConfig{GroupID: "g", MaxRetries: 3}, func(ctx context.Context, e *Event) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	msg := testMessage(t, &Event{EventID: "e2", AggregateID: "order-2"})
	c.process(context.Background(), msg)

	assert.Equal(t, 3, calls)
	assert.Len(t, reader.committed, 1)
}

func TestConsumer_Process_ExhaustedInvokesHookAndDLQ(t *testing.T) {
	reader := &fakeReader{}
	dlq := &fakeDLQ{}
	handlerErr := errors.New("db down")

	var exhaustedEvent *Event
	var exhaustedErr error
	cfg := ConsumerConfig{
		GroupID:    "orchestrator-group",
		MaxRetries: 2,
		DLQ:        dlq,
		OnExhausted: func(ctx context.Context, event *Event, lastErr error) {
			exhaustedEvent = event
			exhaustedErr = lastErr
		},
	}
	calls := 0
	c := newTestConsumer(reader, cfg, func(ctx context.Context, e *Event) error {
		calls++
		return handlerErr
	})

	msg := testMessage(t, &Event{EventID: "e3", EventType: "STOCK_RESERVED", AggregateID: "order-3"})
	c.process(context.Background(), msg)

	assert.Equal(t, 2, calls)
	require.NotNil(t, exhaustedEvent)
	assert.Equal(t, "e3", exhaustedEvent.EventID)
	assert.ErrorIs(t, exhaustedErr, handlerErr)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, msg.Value, dlq.msgs[0].Value)
	assert.Equal(t, "orchestrator-group", dlq.groups[0])
	assert.Len(t, reader.committed, 1)
}

func TestConsumer_Process_PermanentErrorSkipsRetriesAndHook(t *testing.T) {
	reader := &fakeReader{}
	dlq := &fakeDLQ{}
	rejected := errors.New("invalid transition")
	hookCalled := false
	cfg := ConsumerConfig{
		GroupID:     "g",
		MaxRetries:  3,
		DLQ:         dlq,
		OnExhausted: func(context.Context, *Event, error) { hookCalled = true },
	}
	calls := 0
	c := newTestConsumer(reader, cfg, func(ctx context.Context, e *Event) error {
		calls++
		return Permanent(rejected)
	})

	c.process(context.Background(), testMessage(t, &Event{EventID: "e5", AggregateID: "order-5"}))

	assert.Equal(t, 1, calls)
	assert.False(t, hookCalled)
	require.Len(t, dlq.errs, 1)
	assert.ErrorIs(t, dlq.errs[0], rejected)
	assert.Len(t, reader.committed, 1)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	base := errors.New("x")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "x", err.Error())
	assert.False(t, IsPermanent(base))
}

func TestConsumer_Process_PoisonMessageDeadLettered(t *testing.T) {
	reader := &fakeReader{}
	dlq := &fakeDLQ{}
	called := false
	c := newTestConsumer(reader, ConsumerConfig{GroupID: "g", DLQ: dlq}, func(ctx context.Context, e *Event) error {
		called = true
		return nil
	})

	c.process(context.Background(), kafka.Message{Topic: "t", Value: []byte("{not json")})

	assert.False(t, called)
	assert.Len(t, dlq.msgs, 1)
	assert.Len(t, reader.committed, 1)
}

func TestConsumer_Process_CanceledDuringBackoffDoesNotCommit(t *testing.T) {
	reader := &fakeReader{}
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(reader, ConsumerConfig{GroupID: "g", MaxRetries: 3, RetryBackoff: time.Hour}, "t",
		func(ctx context.Context, e *Event) error {
			cancel()
			return errors.New("fail")
		}, testLogger())

	c.process(ctx, testMessage(t, &Event{EventID: "e4", AggregateID: "order-4"}))

	assert.Empty(t, reader.committed)
}

func TestConsumer_StartStopsOnCancel(t *testing.T) {
	reader := &fakeReader{}
	c := newTestConsumer(reader, ConsumerConfig{GroupID: "g"}, func(ctx context.Context, e *Event) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	require.NoError(t, c.Close())
	assert.LessOrEqual(t, reader.closed, 1)
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := newConsumer(&fakeReader{}, ConsumerConfig{}, "t", nil, testLogger())
	assert.Equal(t, defaultMaxRetries, c.maxRetries)
	assert.Equal(t, defaultRetryBackoff, c.retryBackoff)
}
