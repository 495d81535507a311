package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes events to a Kafka topic keyed by customer id, so all
// events for one identity land on the same partition in order.
type KafkaSink struct {
	writer kafkaWriter
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaSink validates the config and builds a sink.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: w}, nil
}

func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return fmt.Errorf("kafka sink not initialized")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.CustomerID),
		Value: value,
	})
}

func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
