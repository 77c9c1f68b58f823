package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConfig configures the optional Kafka/Redpanda event stream.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes task events as JSON records. The record key is the
// run id so one run's events stay ordered within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger hclog.Logger
}

// NewKafkaSink connects a producer. Callers own Close.
func NewKafkaSink(cfg KafkaConfig, logger hclog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.RetryBackoffFn(func(tries int) time.Duration {
			backoff := time.Duration(tries) * 100 * time.Millisecond
			if backoff > 60*time.Second {
				backoff = 60 * time.Second
			}
			return backoff
		}),
		kgo.RequestRetries(10),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaSink{
		client: client,
		topic:  cfg.Topic,
		logger: logger.Named("kafka-sink"),
	}, nil
}

// Emit implements Emitter. Publishes synchronously so a terminal event is on
// the broker before the run returns.
func (s *KafkaSink) Emit(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(ev.RunID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "task_name", Value: []byte(ev.TaskName)},
			{Key: "status", Value: []byte(ev.Status)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}

	s.logger.Debug("published task event",
		"run_id", ev.RunID,
		"status", ev.Status,
	)
	return nil
}

// Close flushes and releases the producer.
func (s *KafkaSink) Close() {
	s.client.Close()
}
