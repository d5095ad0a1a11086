package kafka

import (
	"context"
	"fmt"

	"github.com/ilindan-dev/notifyforge/internal/config"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog"
)

// Consumer wraps a kafka-go Reader bound to a single topic and consumer
// group, grounded on the teacher's `RabbitMQQueue` publisher-side
// constructor shape (shared config in, scoped zerolog logger, ready
// object out) but reworked for the pull-based consumer-group model Kafka
// requires — segmentio/kafka-go's `Reader` already implements the
// partition rebalancing and offset-commit cycle the teacher's AMQP
// channel/ack pairing handled manually.
//
// Each channel's Processor (C8) and the Status Consumer (C9) each own one
// Consumer instance: the processors' instances are built in a loop by
// newProcessors, the Status Consumer's by an fx.Provide constructor in
// StatusModule.
type Consumer struct {
	reader *kafkago.Reader
	logger zerolog.Logger
}

// NewConsumer creates a new Consumer for the given topic and group.
func NewConsumer(cfg *config.Config, topic, groupID string, logger *zerolog.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &Consumer{
		reader: reader,
		logger: logger.With().Str("layer", "kafka_consumer").Str("topic", topic).Str("group", groupID).Logger(),
	}
}

// FetchMessage blocks until a message is available, ctx is cancelled, or
// the reader is closed. The caller must CommitMessages after processing.
func (c *Consumer) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka: fetch message: %w", err)
	}
	return msg, nil
}

// CommitMessages advances the consumer group's committed offset past the
// given messages, acknowledging them.
func (c *Consumer) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: commit messages: %w", err)
	}
	return nil
}

// Close releases the underlying reader. No Fx OnStop hook calls it.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
