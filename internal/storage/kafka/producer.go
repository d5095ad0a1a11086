package kafka

import (
	"context"
	"fmt"

	"github.com/ilindan-dev/notifyforge/internal/config"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog"
)

// Message is the bus-agnostic envelope this package accepts, grounded on
// the Message/Key/Payload shape of `other_examples/0942a0b0_*-messaging.go.go`
// (Topic/Key/Payload fields), narrowed to what segmentio/kafka-go needs.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Producer wraps a shared kafka-go Writer, publishing batches keyed by
// notification_id (spec.md §6: "all keyed by notification_id"). Grounded
// on the teacher's `rabbitmq.NewConnection`/`RabbitMQQueue` pairing
// (single shared connection/writer, scoped zerolog logger, constructor
// returns ready-to-use publisher) translated from AMQP publishing to
// kafka-go's WriteMessages.
type Producer struct {
	writer *kafkago.Writer
	logger zerolog.Logger
}

// NewProducer creates a new Producer bound to the configured brokers.
// Balancer is a consistent Hash so that, as with AMQP's routing keys in
// the teacher, messages sharing a key always land on the same partition.
func NewProducer(cfg *config.Config, logger *zerolog.Logger) *Producer {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Kafka.Brokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}

	return &Producer{
		writer: writer,
		logger: logger.With().Str("layer", "kafka_producer").Logger(),
	}
}

// PublishBatch writes a batch of messages, potentially spanning multiple
// topics, in a single WriteMessages call.
func (p *Producer) PublishBatch(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	kmsgs := make([]kafkago.Message, len(messages))
	for i, m := range messages {
		kmsgs[i] = kafkago.Message{Topic: m.Topic, Key: m.Key, Value: m.Value}
	}

	if err := p.writer.WriteMessages(ctx, kmsgs...); err != nil {
		p.logger.Error().Err(err).Int("count", len(messages)).Msg("failed to publish message batch")
		return fmt.Errorf("kafka: publish batch: %w", err)
	}
	return nil
}

// Close releases the underlying writer. No Fx OnStop hook calls it.
func (p *Producer) Close() error {
	return p.writer.Close()
}
