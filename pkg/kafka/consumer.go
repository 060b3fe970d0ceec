package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// defaultMaxRetries is the number of handler attempts before a message is
	// treated as exhausted.
	defaultMaxRetries = 3

	// defaultRetryBackoff is the fixed wait between two handler attempts.
	defaultRetryBackoff = time.Second
)

// Handler is a function that processes a Kafka event.
type Handler func(ctx context.Context, event *Event) error

// permanentError marks a handler error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consumer dead-letters the message at once,
// without further attempts and without calling the exhaustion hook.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ExhaustedHandler is invoked once a message has failed every handler
// attempt, before it is dead-lettered and committed.
type ExhaustedHandler func(ctx context.Context, event *Event, lastErr error)

// DeadLetterPublisher receives raw messages that could not be processed.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, originalMsg kafka.Message, lastErr error, consumerGroup string) error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// Topic is consumed when Topics is empty.
	Topic    string
	Topics   []string
	MinBytes int
	MaxBytes int

	// MaxRetries is the number of handler attempts per message (default 3).
	MaxRetries int
	// RetryBackoff is the fixed delay between attempts (default 1s).
	RetryBackoff time.Duration

	// DLQ receives messages that exhausted their retries. Optional.
	DLQ DeadLetterPublisher
	// OnExhausted is called for every message that exhausted its retries. Optional.
	OnExhausted ExhaustedHandler
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps the kafka-go reader for consuming events.
type Consumer struct {
	reader       messageReader
	logger       *slog.Logger
	handler      Handler
	group        string
	topics       string
	maxRetries   int
	retryBackoff time.Duration
	dlq          DeadLetterPublisher
	onExhausted  ExhaustedHandler
	closeOnce    sync.Once
}

// NewConsumer creates a new Kafka consumer for the configured topics and group.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	readerCfg := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	}
	topics := cfg.Topic
	if len(cfg.Topics) > 0 {
		readerCfg.GroupTopics = cfg.Topics
		topics = fmt.Sprint(cfg.Topics)
	} else {
		readerCfg.Topic = cfg.Topic
	}

	return newConsumer(kafka.NewReader(readerCfg), cfg, topics, handler, logger)
}

func newConsumer(r messageReader, cfg ConsumerConfig, topics string, handler Handler, logger *slog.Logger) *Consumer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	return &Consumer{
		reader:       r,
		logger:       logger,
		handler:      handler,
		group:        cfg.GroupID,
		topics:       topics,
		maxRetries:   maxRetries,
		retryBackoff: backoff,
		dlq:          cfg.DLQ,
		onExhausted:  cfg.OnExhausted,
	}
}

// Start begins consuming messages. It blocks until the context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topics", c.topics),
		slog.String("group", c.group),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", slog.String("topics", c.topics))
			return c.Close()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
				continue
			}
			c.process(ctx, msg)
		}
	}
}

// process runs one message through the handler with fixed-backoff retries.
// The message is committed unless the context is canceled mid-retry, in which
// case it will be redelivered.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	ConsumerMessagesReceived.WithLabelValues(msg.Topic, c.group).Inc()
	ctx = extractTrace(ctx, msg)

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to unmarshal event",
			slog.String("error", err.Error()),
			slog.String("topic", msg.Topic),
		)
		ConsumerMessagesFailed.WithLabelValues(msg.Topic, c.group, FailureUnmarshal).Inc()
		c.deadLetter(ctx, msg, fmt.Errorf("unmarshal event: %w", err))
		c.commit(ctx, msg)
		return
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = c.handler(ctx, event)
		if lastErr == nil {
			break
		}
		if IsPermanent(lastErr) {
			c.logger.Warn("handler rejected message",
				slog.String("event_type", event.EventType),
				slog.String("aggregate_id", event.AggregateID),
				slog.String("error", lastErr.Error()),
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
			)
			ConsumerMessagesFailed.WithLabelValues(msg.Topic, c.group, FailurePermanent).Inc()
			c.deadLetter(ctx, msg, lastErr)
			c.commit(ctx, msg)
			return
		}
		c.logger.Warn("handler failed, will retry",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", c.maxRetries),
		)
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryBackoff):
			}
		}
	}
	ConsumerProcessingDuration.WithLabelValues(msg.Topic, c.group).Observe(time.Since(start).Seconds())

	if lastErr != nil {
		ConsumerMessagesFailed.WithLabelValues(msg.Topic, c.group, FailureExhausted).Inc()
		c.logger.Error("handler failed after all retries",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.Int("retries", c.maxRetries),
		)
		if c.onExhausted != nil {
			c.onExhausted(ctx, event, lastErr)
		}
		c.deadLetter(ctx, msg, lastErr)
		c.commit(ctx, msg)
		return
	}

	ConsumerMessagesProcessed.WithLabelValues(msg.Topic, c.group, event.EventType).Inc()
	c.commit(ctx, msg)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		c.logger.Error("dropping unprocessable message, no DLQ configured",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("value", string(msg.Value)),
		)
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.Error("failed to dead-letter message", slog.String("error", err.Error()))
		return
	}
	ConsumerDLQPublished.WithLabelValues(msg.Topic, c.group).Inc()
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message", slog.String("error", err.Error()))
	}
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}

// TopicPrefix is the standard prefix for all Kafka topics.
const TopicPrefix = "ecommerce"

// Topic constructs a fully-qualified topic name.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}
