package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher delivers one encoded message to a broker.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// KafkaPublisher writes messages to a Kafka topic and waits for all
// in-sync replicas to acknowledge.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a synchronous writer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs messages instead of sending them. Used when no broker
// is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, key, value []byte) error {
	slog.Info("event published", "key", string(key), "payload", string(value))
	return nil
}
