package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// Producer publishes post-commit domain messages (reservation confirmed or
// cancelled, event deleted). The notification service consumes them; the
// engine itself never waits on delivery inside a reservation transaction.
type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer}
}

func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// NoopProducer stands in when Kafka is disabled (local development, tests).
type NoopProducer struct{}

func (NoopProducer) Publish(topic string, key string, value []byte) error { return nil }
func (NoopProducer) Close() error                                         { return nil }
