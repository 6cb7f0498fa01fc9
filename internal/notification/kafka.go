package notification

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// KafkaNotifier publishes notification events to a Kafka topic, keyed by the
// destination account so per-account ordering is preserved.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier builds a notifier writing to the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Send marshals the message as JSON and writes it to the topic.
func (n *KafkaNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(message.Destination),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
