package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ali449/saga-orchestrator/pkg/contract"
	pkgkafka "github.com/ali449/saga-orchestrator/pkg/kafka"
)

// --- Mocks ---

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) ProcessPayment(ctx context.Context, cmd *pkgkafka.Event) error {
	return m.Called(ctx, cmd).Error(0)
}

func (m *mockPaymentService) RefundPayment(ctx context.Context, cmd *pkgkafka.Event) error {
	return m.Called(ctx, cmd).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, evt *pkgkafka.Event) error {
	return m.Called(ctx, topic, evt).Error(0)
}

// --- Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCommand(commandType string) *pkgkafka.Event {
	return &pkgkafka.Event{
		EventID:        "cmd-7",
		EventType:      commandType,
		SagaID:         1,
		SagaInstanceID: "inst-7",
		AggregateID:    "order-7",
		AggregateType:  contract.AggregateOrder,
		Version:        1,
		Source:         "saga-orchestrator",
		CorrelationID:  "corr-7",
		Payload:        json.RawMessage(`{"stockId":"sku-9","quantity":1}`),
	}
}

// ============================================================================
// Consumer
// ============================================================================

func TestConsumer_RoutesCommands(t *testing.T) {
	tests := []struct {
		command contract.CommandType
		method  string
	}{
		{contract.ProcessPayment, "ProcessPayment"},
		{contract.RefundPayment, "RefundPayment"},
	}

	for _, tt := range tests {
		t.Run(tt.command.String(), func(t *testing.T) {
			svc := new(mockPaymentService)
			c := NewConsumer(svc, newTestLogger())
			msg := newTestCommand(tt.command.String())
			svc.On(tt.method, mock.Anything, msg).Return(nil)

			require.NoError(t, c.Handle(context.Background(), msg))
			svc.AssertExpectations(t)
		})
	}
}

func TestConsumer_ServiceErrorIsRetryable(t *testing.T) {
	svc := new(mockPaymentService)
	c := NewConsumer(svc, newTestLogger())
	msg := newTestCommand(contract.RefundPayment.String())
	svc.On("RefundPayment", mock.Anything, msg).Return(errors.New("provider timeout"))

	err := c.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, pkgkafka.IsPermanent(err))
}

func TestConsumer_RejectsForeignMessages(t *testing.T) {
	svc := new(mockPaymentService)
	c := NewConsumer(svc, newTestLogger())

	for _, eventType := range []string{contract.ReserveStock.String(), contract.OrderCreated.String(), "CHARGE_CARD"} {
		err := c.Handle(context.Background(), newTestCommand(eventType))
		require.Error(t, err, eventType)
		assert.True(t, pkgkafka.IsPermanent(err), eventType)
	}
	svc.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestConsumer_IdempotentHandlerSkipsDuplicates(t *testing.T) {
	svc := new(mockPaymentService)
	c := NewConsumer(svc, newTestLogger())
	msg := newTestCommand(contract.ProcessPayment.String())
	svc.On("ProcessPayment", mock.Anything, msg).Return(nil).Once()

	handler := pkgkafka.IdempotentHandler(pkgkafka.NewMemoryIdempotencyStore(time.Hour), c.Handle, newTestLogger())
	require.NoError(t, handler(context.Background(), msg))
	require.NoError(t, handler(context.Background(), msg))
	svc.AssertNumberOfCalls(t, "ProcessPayment", 1)
}

func TestNewKafkaConsumer(t *testing.T) {
	c := NewConsumer(new(mockPaymentService), newTestLogger())
	consumer := NewKafkaConsumer(ConsumerSettings{
		Brokers:      []string{"localhost:9092"},
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}, c, pkgkafka.NewMemoryIdempotencyStore(time.Hour), newTestLogger())

	require.NotNil(t, consumer)
	assert.NoError(t, consumer.Close())
}

// ============================================================================
// Producer
// ============================================================================

func TestProducer_PublishReply(t *testing.T) {
	pub := new(mockPublisher)
	p := NewProducer(pub, newTestLogger())
	cmd := newTestCommand(contract.ProcessPayment.String())

	var got *pkgkafka.Event
	pub.On("Publish", mock.Anything, contract.PaymentEvents, mock.AnythingOfType("*kafka.Event")).
		Run(func(args mock.Arguments) { got = args.Get(2).(*pkgkafka.Event) }).
		Return(nil)

	require.NoError(t, p.PublishReply(context.Background(), cmd, contract.PaymentSucceeded, true))
	require.NotNil(t, got)
	assert.Equal(t, contract.PaymentSucceeded.String(), got.EventType)
	assert.Equal(t, cmd.SagaID, got.SagaID)
	assert.Equal(t, cmd.SagaInstanceID, got.SagaInstanceID)
	assert.Equal(t, cmd.AggregateID, got.AggregateID)
	assert.Equal(t, SourcePaymentService, got.Source)
	assert.JSONEq(t, string(cmd.Payload), string(got.Payload))
	assert.True(t, got.Failure)
}

func TestProducer_PublishReply_Error(t *testing.T) {
	pub := new(mockPublisher)
	p := NewProducer(pub, newTestLogger())
	pub.On("Publish", mock.Anything, contract.PaymentEvents, mock.Anything).Return(errors.New("circuit open"))

	err := p.PublishReply(context.Background(), newTestCommand(contract.RefundPayment.String()), contract.PaymentRefunded, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PAYMENT_REFUNDED")
}
