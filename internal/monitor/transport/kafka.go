package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
)

// KafkaTransport publishes alerts as JSON to topicPrefix+"-alerts",
// mirroring kafka.repository.HandleChainEvent's topicPrefix+suffix
// convention.
type KafkaTransport struct {
	producer    sarama.SyncProducer
	topicPrefix string
}

// NewKafkaTransport dials brokers with sarama.NewConfig() defaults tuned
// the way the teacher's kafka.config.getDefaultKafkaConfig does
// (Producer.Return.Successes = true).
func NewKafkaTransport(brokers []string, topicPrefix string) (*KafkaTransport, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.MaxVersion

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: kafka dial failed: %w", err)
	}
	return &KafkaTransport{producer: producer, topicPrefix: topicPrefix}, nil
}

func (t *KafkaTransport) Send(ctx context.Context, m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, _, err = t.producer.SendMessage(&sarama.ProducerMessage{
		Topic: t.topicPrefix + "-alerts",
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

func (t *KafkaTransport) Close() error { return t.producer.Close() }

var _ Transport = (*KafkaTransport)(nil)
