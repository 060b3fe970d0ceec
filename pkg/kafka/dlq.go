package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopicPrefix is the default prefix for dead-letter queue topics.
const DLQTopicPrefix = "ecommerce.dlq"

// Dead-letter message classes, recorded in the dlq.class header.
const (
	DLQClassEvent   = "event"
	DLQClassCommand = "command"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DLQProducer publishes failed messages to a dead-letter queue topic.
type DLQProducer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewDLQProducer creates a DLQ producer writing to DLQTopicPrefix-prefixed topics.
func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              1,
		BatchTimeout:           100 * time.Millisecond,
		Async:                  false,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	return &DLQProducer{
		writer: w,
		logger: logger,
	}
}

// DLQTopic constructs the DLQ topic name for a given source topic.
func DLQTopic(originalTopic string) string {
	return fmt.Sprintf("%s.%s", DLQTopicPrefix, originalTopic)
}

// Publish sends a consumed message that could not be processed to the
// corresponding DLQ topic. It includes the original topic, partition, offset,
// error message, and consumer group as headers for debugging.
func (d *DLQProducer) Publish(ctx context.Context, originalMsg kafka.Message, lastErr error, consumerGroup string) error {
	headers := make([]kafka.Header, 0, len(originalMsg.Headers)+6)
	headers = append(headers, originalMsg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.class", Value: []byte(DLQClassEvent)},
		kafka.Header{Key: "dlq.original_topic", Value: []byte(originalMsg.Topic)},
		kafka.Header{Key: "dlq.original_partition", Value: []byte(fmt.Sprintf("%d", originalMsg.Partition))},
		kafka.Header{Key: "dlq.original_offset", Value: []byte(fmt.Sprintf("%d", originalMsg.Offset))},
		kafka.Header{Key: "dlq.consumer_group", Value: []byte(consumerGroup)},
	)
	return d.write(ctx, originalMsg.Topic, originalMsg.Key, originalMsg.Value, headers, lastErr)
}

// PublishEvent dead-letters an envelope that was never delivered, such as an
// outbound command whose publication exhausted its retries.
func (d *DLQProducer) PublishEvent(ctx context.Context, topic string, event *Event, class string, lastErr error) error {
	msg, err := newMessage(ctx, topic, event)
	if err != nil {
		return err
	}
	headers := append(msg.Headers,
		kafka.Header{Key: "dlq.class", Value: []byte(class)},
		kafka.Header{Key: "dlq.original_topic", Value: []byte(topic)},
	)
	return d.write(ctx, topic, msg.Key, msg.Value, headers, lastErr)
}

func (d *DLQProducer) write(ctx context.Context, originalTopic string, key, value []byte, headers []kafka.Header, lastErr error) error {
	dlqTopic := DLQTopic(originalTopic)
	if lastErr != nil {
		headers = append(headers, kafka.Header{Key: "dlq.error", Value: []byte(lastErr.Error())})
	}

	dlqMsg := kafka.Message{
		Topic:   dlqTopic,
		Key:     key,
		Value:   value,
		Headers: headers,
	}

	if err := d.writer.WriteMessages(ctx, dlqMsg); err != nil {
		d.logger.Error("failed to publish message to DLQ",
			slog.String("dlq_topic", dlqTopic),
			slog.String("original_topic", originalTopic),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish to DLQ %s: %w", dlqTopic, err)
	}

	d.logger.Warn("message sent to DLQ",
		slog.String("dlq_topic", dlqTopic),
		slog.String("original_topic", originalTopic),
		slog.String("value", string(value)),
	)

	return nil
}

// Close closes the DLQ producer.
func (d *DLQProducer) Close() error {
	return d.writer.Close()
}
